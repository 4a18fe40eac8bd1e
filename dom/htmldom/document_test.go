package htmldom

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/domfilter/dom"
)

const page = `<!doctype html><html><head><title>t</title></head><body>
<div id="main" class="wrap outer">
  <p class="ad">one</p>
  <img src="/img/a.png" alt="Ad">
  <a href="https://ads.example.com/x">x</a>
</div>
<object data="//cdn.example.net/o.swf"></object>
</body></html>`

func mustParse(t *testing.T, markup string) *Document {
	t.Helper()
	d, err := ParseString("https://www.example.com/news/index.html", markup)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return d
}

func TestQueryAll_DocumentOrder(t *testing.T) {
	d := mustParse(t, page)
	els, err := d.QueryAll("[class]")
	if err != nil {
		t.Fatal(err)
	}
	if len(els) != 2 {
		t.Fatalf("got %d elements, want 2", len(els))
	}
	if els[0].TagName() != "div" || els[1].TagName() != "p" {
		t.Errorf("order: got %s,%s", els[0].TagName(), els[1].TagName())
	}
}

func TestQueryAll_InvalidSelector(t *testing.T) {
	d := mustParse(t, page)
	if _, err := d.QueryAll("div[[["); err == nil {
		t.Fatal("expected error for invalid selector")
	}
}

func TestElementQueryAll_ExcludesSelf(t *testing.T) {
	d := mustParse(t, page)
	main, err := d.Query("#main")
	if err != nil || main == nil {
		t.Fatalf("query #main: %v", err)
	}
	els, err := main.QueryAll("div, p")
	if err != nil {
		t.Fatal(err)
	}
	if len(els) != 1 || els[0].TagName() != "p" {
		t.Errorf("got %d elements, want only the p", len(els))
	}
	ok, err := main.Matches("div.wrap")
	if err != nil || !ok {
		t.Errorf("Matches(div.wrap): got %v, %v", ok, err)
	}
}

func TestProp_ResolvesURLs(t *testing.T) {
	d := mustParse(t, page)
	img, _ := d.Query("img")
	if got := img.Prop("src"); got != "https://www.example.com/img/a.png" {
		t.Errorf("img src: got %q", got)
	}
	obj, _ := d.Query("object")
	if got := obj.Prop("data"); got != "https://cdn.example.net/o.swf" {
		t.Errorf("object data: got %q", got)
	}
	if got := img.Prop("alt"); got != "Ad" {
		t.Errorf("alt: got %q", got)
	}
}

func TestSetStyle_PreservesAndReplaces(t *testing.T) {
	d := mustParse(t, `<html><body><div style="color: red; display: block"></div></body></html>`)
	div, _ := d.Query("div")
	if err := div.SetStyle("display", "none"); err != nil {
		t.Fatal(err)
	}
	e := div.(*Element)
	if v, imp := e.Style("display"); v != "none" || !imp {
		t.Errorf("display: got %q important=%v", v, imp)
	}
	if v, _ := e.Style("color"); v != "red" {
		t.Errorf("color: got %q, want red", v)
	}
}

func TestRemove(t *testing.T) {
	d := mustParse(t, page)
	img, _ := d.Query("img")
	ok, err := img.Remove()
	if err != nil || !ok {
		t.Fatalf("remove: got %v, %v", ok, err)
	}
	if img.(*Element).Attached() {
		t.Error("element still attached")
	}
	ok, _ = img.Remove()
	if ok {
		t.Error("second remove must report no parent")
	}
}

func TestAppendStyle(t *testing.T) {
	d := mustParse(t, page)
	if err := d.AppendStyle("postload", ".ad,\n#x\n{display:none !important;}"); err != nil {
		t.Fatal(err)
	}
	st, err := d.Query("body > style.postload")
	if err != nil || st == nil {
		t.Fatalf("style not appended to body: %v", err)
	}
	if !strings.HasPrefix(st.Text(), ".ad,\n#x\n{") {
		t.Errorf("style text: got %q", st.Text())
	}
}

func TestInsert_PublishesRecord(t *testing.T) {
	d := mustParse(t, page)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := d.Observe(ctx)
	if err != nil {
		t.Fatal(err)
	}

	added, err := d.Insert("#main", `<span class="late">x</span>text<script>1</script>`)
	if err != nil {
		t.Fatal(err)
	}
	if len(added) != 3 {
		t.Fatalf("added: got %d nodes, want 3", len(added))
	}

	select {
	case recs := <-ch:
		if len(recs) != 1 || len(recs[0].Added) != 3 {
			t.Fatalf("record: got %+v", recs)
		}
		if recs[0].Added[1].NodeType() != dom.TextNode {
			t.Errorf("second node type: got %d, want text", recs[0].Added[1].NodeType())
		}
	case <-time.After(time.Second):
		t.Fatal("no mutation record")
	}

	ok, _ := d.Exists("#main > span.late")
	if !ok {
		t.Error("inserted element not queryable")
	}
}

func TestFireError_PublishesEvent(t *testing.T) {
	d := mustParse(t, page)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, _ := d.Resources(ctx)

	img, _ := d.Query("img")
	d.FireError(img)
	select {
	case ev := <-ch:
		if ev.Kind != dom.ResourceError || ev.Target != img {
			t.Errorf("event: got %v %v", ev.Kind, ev.Target)
		}
	case <-time.After(time.Second):
		t.Fatal("no resource event")
	}
}
