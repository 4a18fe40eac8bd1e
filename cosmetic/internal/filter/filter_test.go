package filter

import (
	"reflect"
	"testing"
	"time"

	"github.com/hazyhaar/domfilter/dom"
	"github.com/hazyhaar/domfilter/dom/htmldom"
	"github.com/hazyhaar/domfilter/wire"
)

func TestLedger_ClaimOnce(t *testing.T) {
	l := newLedger()
	if !l.Claim(".ad") {
		t.Fatal("first claim should report new")
	}
	if l.Claim(".ad") {
		t.Error("second claim should report seen")
	}
	l.Mark("#x")
	if !l.Has("#x") || l.Len() != 2 {
		t.Errorf("got len %d, want 2 with #x recorded", l.Len())
	}
}

func TestCoalescer_NoReset(t *testing.T) {
	c := newCoalescer(30 * time.Millisecond)
	if c.C() != nil {
		t.Fatal("idle coalescer must have nil channel")
	}
	if !c.trigger() {
		t.Fatal("first trigger should open a window")
	}
	start := time.Now()
	time.Sleep(15 * time.Millisecond)
	if c.trigger() {
		t.Error("trigger while pending should be absorbed")
	}
	<-c.C()
	c.fired()
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("window fired after %v", elapsed)
	}
	if c.pending() {
		t.Error("fired coalescer should be idle")
	}
	if !c.trigger() {
		t.Error("trigger after fire should open a new window")
	}
	c.stop()
	if c.pending() || c.C() != nil {
		t.Error("stopped coalescer should be idle")
	}
}

func newUnitSession(t *testing.T, markup string) *Session {
	t.Helper()
	doc, err := htmldom.ParseString("https://www.example.com/page", markup)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return New(Config{Doc: doc})
}

func TestHarvest_DedupAndOrder(t *testing.T) {
	s := newUnitSession(t, `<body>
		<div id=" top "></div><div id="top"></div><div id=""></div>
		<p class="zeta  alpha"></p><p class="alpha"></p>
	</body>`)

	ids, _ := s.doc.QueryAll("[id]")
	classes, _ := s.doc.QueryAll("[class]")
	s.harvestIDs(ids)
	s.harvestClasses(classes)

	got := s.takeCandidates()
	want := []string{".alpha", ".zeta", "#top"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}

	s.harvestIDs(ids)
	s.harvestClasses(classes)
	if got := s.takeCandidates(); len(got) != 0 {
		t.Errorf("second harvest: got %q, want none", got)
	}
	if s.idSelectors != nil || s.classSelectors != nil {
		t.Error("buffers should be reset after take")
	}
}

func TestHarvest_ClassSplitsOnASCIISpaceOnly(t *testing.T) {
	s := newUnitSession(t, `<body><p class="a&#160;b	c"></p></body>`)
	classes, _ := s.doc.QueryAll("[class]")
	s.harvestClasses(classes)

	got := s.takeCandidates()
	want := []string{".a\u00a0b", ".c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestHarvest_EmptyLeavesBuffersNil(t *testing.T) {
	s := newUnitSession(t, `<body></body>`)
	s.harvestIDs(nil)
	s.harvestClasses(nil)
	if s.idSelectors != nil || s.classSelectors != nil {
		t.Error("no nodes should allocate no buffer")
	}
}

func TestHashKey(t *testing.T) {
	cases := []struct {
		href string
		want string
		ok   bool
	}{
		{"https://ads.example.com/x", "ads.exam", true},
		{"http://ab", "ab", true},
		{"https://exämple.com/x", "exämple.", true},
		{"https://aaaaaaaé.com/", "aaaaaaaé", true},
		{"mailto:x@example.com", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		got, ok := hashKey(c.href)
		if got != c.want || ok != c.ok {
			t.Errorf("hashKey(%q): got %q,%v, want %q,%v", c.href, got, ok, c.want, c.ok)
		}
	}
}

func TestHighLowMatches_BothForms(t *testing.T) {
	s := newUnitSession(t, `<body>
		<img alt="sponsored" src="a.png">
		<span title="sponsored"></span>
	</body>`)
	generics := wire.SelectorSet{
		`[alt="sponsored"]`:       true,
		`span[title="sponsored"]`: true,
	}
	got := s.highLowMatches(contextSet{whole: true}, generics)
	want := []string{`[alt="sponsored"]`, `span[title="sponsored"]`}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestSelectNodes_RootsIncludeSelf(t *testing.T) {
	s := newUnitSession(t, `<body><div id="r" class="c"><p class="c"></p></div><p class="c"></p></body>`)
	root, err := s.doc.Query("#r")
	if err != nil || root == nil {
		t.Fatalf("query root: %v", err)
	}
	els := s.selectNodes(contextSet{roots: []dom.Element{root}}, ".c")
	if len(els) != 2 {
		t.Errorf("got %d nodes, want 2", len(els))
	}
}

func TestSelectorsFromStyle(t *testing.T) {
	text := ".banner,\n#ad,\ndiv:not(.x, .y)\n{display:none !important;}"
	got := selectorsFromStyle(text)
	want := []string{".banner", "#ad", "div:not(.x, .y)"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestSplitInjectedBlock(t *testing.T) {
	got := splitInjectedBlock(".a,\n.b\n{display:none !important;}")
	want := []string{".a", ".b"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestSplitSelectorList_Quoted(t *testing.T) {
	got := splitSelectorList(`a[title="x, y"], b`)
	want := []string{`a[title="x, y"]`, "b"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
}
