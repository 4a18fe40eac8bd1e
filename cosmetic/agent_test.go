package cosmetic

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/domfilter/cosmetic/internal/config"
	"github.com/hazyhaar/domfilter/cosmetic/internal/journal"
	"github.com/hazyhaar/domfilter/dom/htmldom"
	"github.com/hazyhaar/domfilter/wire"
)

const testRules = `
generic:
  hide: [".ad", "#banner", ".keep"]
  donthide: [".keep"]
high:
  hide_low: ['[title="Advertisement"]']
  hide_high: [".tower"]
network:
  block: ["ads.example.net"]
  collapse: true
`

const testPage = `<!DOCTYPE html>
<html><head><title>t</title></head><body>
<div class="ad">buy</div>
<div class="keep">stay</div>
<div id="banner">banner</div>
<p title="Advertisement">promo</p>
<img id="pixel" src="https://ads.example.net/p.png">
<img id="logo" src="https://cdn.example.org/logo.png">
</body></html>`

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testAgent starts an Agent running the local engine over testRules,
// journaling into an in-memory database.
func testAgent(t *testing.T, transport string, sinks ...Sink) *Agent {
	t.Helper()
	rules := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(rules, []byte(testRules), 0o644); err != nil {
		t.Fatal(err)
	}
	doc := "engine:\n  transport: " + transport + "\n  rules_file: " + rules + `
filter:
  mutation_window: 10ms
  high_high_window: 20ms
`
	cfg, err := config.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}

	a := New(cfg, quietLogger(), sinks...)
	a.UseJournal(journal.OpenMemory(t))
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(a.Stop)
	return a
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func filterTestPage(t *testing.T, a *Agent) (*htmldom.Document, SessionStats) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, stats, err := a.FilterHTML(ctx, "https://news.example/", strings.NewReader(testPage))
	if err != nil {
		t.Fatalf("filter html: %v", err)
	}
	doc, err := htmldom.ParseString("https://news.example/", out)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	return doc, stats
}

func hidden(t *testing.T, doc *htmldom.Document, selector string) bool {
	t.Helper()
	el, err := doc.Query(selector)
	if err != nil || el == nil {
		t.Fatalf("query %s: %v", selector, err)
	}
	v, important := el.(*htmldom.Element).Style("display")
	return v == "none" && important
}

func TestFilterHTML_LocalEngine(t *testing.T) {
	a := testAgent(t, TransportLocal)
	doc, stats := filterTestPage(t, a)

	for _, sel := range []string{"div.ad", "#banner", "p[title]"} {
		if !hidden(t, doc, sel) {
			t.Errorf("%s should be hidden", sel)
		}
	}
	if hidden(t, doc, "div.keep") {
		t.Error("excepted selector .keep was hidden")
	}

	if ok, _ := doc.Exists("#pixel"); ok {
		t.Error("blocked image should be removed")
	}
	if ok, _ := doc.Exists("#logo"); !ok {
		t.Error("allowed image should stay")
	}

	styles, err := doc.QueryAll("style.cosmetic-postload")
	if err != nil || len(styles) != 1 {
		t.Fatalf("got %d postload blocks, want 1 (err %v)", len(styles), err)
	}

	if stats.CosmeticSelectors != 3 || stats.NetSelectors != 1 || stats.StyleBlocks != 1 {
		t.Errorf("stats: got %+v", stats)
	}
}

func TestFilterHTML_Journaled(t *testing.T) {
	a := testAgent(t, TransportLocal)
	filterTestPage(t, a)

	ctx := context.Background()
	waitFor(t, "journal rows", func() bool {
		hosts, err := a.HostStats(ctx)
		return err == nil && len(hosts) == 1 && hosts[0].Cosmetic == 3 && hosts[0].Net == 1
	})

	entries, err := a.Recent(ctx, "news.example", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("got %d entries, want 4", len(entries))
	}

	waitFor(t, "engine stats", func() bool {
		s := a.Stats().Engine
		return s["news.example"][wire.KindCosmetic] == 3 && s["news.example"][wire.KindNet] == 1
	})
}

func TestFilterHTML_Sinks(t *testing.T) {
	var (
		mu   sync.Mutex
		got  []string
		kind []string
	)
	cb := NewCallbackSink(func(_ context.Context, r Report) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, r.Selectors...)
		kind = append(kind, r.Type)
		return nil
	})
	a := testAgent(t, TransportLocal, cb)
	filterTestPage(t, a)

	waitFor(t, "sink reports", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(kind) == 2
	})
	mu.Lock()
	if !reflect.DeepEqual(kind, []string{wire.KindNet, wire.KindCosmetic}) &&
		!reflect.DeepEqual(kind, []string{wire.KindCosmetic, wire.KindNet}) {
		t.Errorf("kinds: got %q", kind)
	}
	if len(got) != 4 {
		t.Errorf("selectors: got %q", got)
	}
	mu.Unlock()
	waitFor(t, "sent counter", func() bool { return a.Stats().Reports == 2 })
}

func TestFilterHTML_NoEngine(t *testing.T) {
	a := testAgent(t, TransportNone)
	doc, stats := filterTestPage(t, a)

	if hidden(t, doc, "div.ad") {
		t.Error("nothing should be hidden without an engine")
	}
	if ok, _ := doc.Exists("#pixel"); !ok {
		t.Error("image removed without an engine")
	}
	if stats.GenericAsks != 1 || stats.CosmeticSelectors != 0 {
		t.Errorf("stats: got %+v", stats)
	}
}

func TestFilterHTML_NotStarted(t *testing.T) {
	a := New(config.Default(), quietLogger())
	_, _, err := a.FilterHTML(context.Background(), "https://x.example/", strings.NewReader(testPage))
	if !errors.Is(err, ErrNotStarted) {
		t.Errorf("got %v, want ErrNotStarted", err)
	}
	if err := a.FilterPage(context.Background(), "https://x.example/", "p1"); !errors.Is(err, ErrNotStarted) {
		t.Errorf("filter page: got %v, want ErrNotStarted", err)
	}
}

func TestClosePage_Unknown(t *testing.T) {
	a := testAgent(t, TransportNone)
	if err := a.ClosePage("nope"); !errors.Is(err, ErrUnknownPage) {
		t.Errorf("got %v, want ErrUnknownPage", err)
	}
	if n := len(a.Sessions()); n != 0 {
		t.Errorf("got %d sessions, want 0", n)
	}
}

func TestStart_BadRules(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.Transport = TransportLocal
	cfg.Engine.RulesFile = filepath.Join(t.TempDir(), "missing.yaml")
	a := New(cfg, quietLogger())
	if err := a.Start(context.Background()); err == nil {
		a.Stop()
		t.Fatal("expected error for missing rules file")
	}
}

func TestTabOptions_FromJournal(t *testing.T) {
	a := testAgent(t, TransportNone)
	ctx := context.Background()
	j := a.journalHandle()
	now := time.Now().UTC()
	for _, r := range []wire.Report{
		{SessionID: "s1", PageURL: "https://news.example/a", Hostname: "news.example", Type: wire.KindCosmetic, Selectors: []string{".ad", "#banner"}, At: now},
		{SessionID: "s2", PageURL: "https://news.example/b", Hostname: "news.example", Type: wire.KindCosmetic, Selectors: []string{".ad"}, At: now.Add(time.Second)},
		{SessionID: "s2", PageURL: "https://news.example/b", Hostname: "news.example", Type: wire.KindNet, Selectors: []string{`img[src="https://x/"]`}, At: now},
		{SessionID: "s3", PageURL: "https://other.example/", Hostname: "other.example", Type: wire.KindCosmetic, Selectors: []string{".other"}, At: now},
	} {
		if err := j.Send(ctx, r); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	opts := a.tabOptions(ctx, "https://news.example/c")
	if opts.PreloadClass != "cosmetic-preload" || opts.ExceptionsAttr != "data-cosmetic-exceptions" {
		t.Errorf("marker: got %+v", opts)
	}
	if !reflect.DeepEqual(opts.PreloadSelectors, []string{".ad", "#banner"}) {
		t.Errorf("selectors: got %q", opts.PreloadSelectors)
	}
}

func TestPreloadClass(t *testing.T) {
	tests := map[string]string{
		"style.cosmetic-preload": "cosmetic-preload",
		"style.":                 "",
		"#preload":               "",
		"":                       "",
	}
	for in, want := range tests {
		if got := preloadClass(in); got != want {
			t.Errorf("preloadClass(%q): got %q, want %q", in, got, want)
		}
	}
}

func TestReportQueue_DrainsOnClose(t *testing.T) {
	var mu sync.Mutex
	n := 0
	q := newReportQueue(NewCallbackSink(func(context.Context, Report) error {
		mu.Lock()
		n++
		mu.Unlock()
		return nil
	}), quietLogger())
	for i := 0; i < 10; i++ {
		q.Report(wire.Report{SessionID: "s", Selectors: []string{".x"}})
	}
	q.close()
	q.Report(wire.Report{SessionID: "late"})

	mu.Lock()
	defer mu.Unlock()
	if n != 10 || q.sent.Load() != 10 {
		t.Errorf("got %d delivered, %d sent, want 10", n, q.sent.Load())
	}
}
