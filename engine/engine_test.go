package engine

import (
	"context"
	"encoding/json"
	"net"
	"reflect"
	"testing"
	"time"

	"github.com/hazyhaar/domfilter/messaging"
	"github.com/hazyhaar/domfilter/wire"
)

const testRules = `
generic:
  hide: [".ad", "#banner", ".keep"]
  donthide: [".keep"]
high:
  hide_low: ['[title="Advertisement"]']
  hide_medium:
    ads.exam: ['a[href^="https://ads.example.com/"]']
  hide_high: [".tower", ".sponsor-box"]
network:
  block: ["ads.example.net", "tracker.example"]
  collapse: true
  no_collapse: ["tracker.example"]
`

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	r, err := ParseRules([]byte(testRules))
	if err != nil {
		t.Fatalf("parse rules: %v", err)
	}
	return New(r, nil)
}

func ask(t *testing.T, e *Engine, msg any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	reply, err := e.Handle(context.Background(), raw)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	out, err := json.Marshal(reply)
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestRetrieveGeneric(t *testing.T) {
	e := newTestEngine(t)
	raw := ask(t, e, wire.NewRetrieveGeneric("https://x.example/", []string{".ad", ".keep", ".nope"}, true))
	reply := wire.DecodeGenericReply(raw)
	if reply == nil {
		t.Fatalf("undecodable reply %s", raw)
	}
	if !reflect.DeepEqual(reply.Hide, []string{".ad", ".keep"}) || !reflect.DeepEqual(reply.Donthide, []string{".keep"}) {
		t.Errorf("got hide %q donthide %q", reply.Hide, reply.Donthide)
	}
	hg := reply.HighGenerics
	if hg == nil {
		t.Fatal("bundle missing")
	}
	if !hg.HideLow.Has(`[title="Advertisement"]`) || hg.HideLowCount != 1 {
		t.Errorf("hide low: got %+v", hg.HideLow)
	}
	if sels, ok := hg.HideMedium.Selectors("ads.exam"); !ok || len(sels) != 1 {
		t.Errorf("hide medium: got %q", sels)
	}
	if got := hg.HighSelectors(); !reflect.DeepEqual(got, []string{".tower", ".sponsor-box"}) {
		t.Errorf("hide high: got %q", got)
	}

	raw = ask(t, e, wire.NewRetrieveGeneric("https://x.example/", nil, false))
	if reply := wire.DecodeGenericReply(raw); reply == nil || reply.HighGenerics != nil {
		t.Errorf("bundle should only be sent on request: %s", raw)
	}
}

func TestFilterRequest(t *testing.T) {
	e := newTestEngine(t)
	cases := []struct {
		url      string
		blocked  bool
		collapse bool
	}{
		{"https://ads.example.net/a.png", true, true},
		{"https://cdn.ads.example.net/a.png", true, true},
		{"https://tracker.example/p.gif", true, false},
		{"https://notads.example.net/a.png", false, false},
		{"https://www.example.com/a.png", false, false},
	}
	for _, c := range cases {
		raw := ask(t, e, wire.FilterRequest{What: wire.WhatFilterRequest, TagName: "img", RequestURL: c.url})
		reply := wire.DecodeFilterReply(raw)
		if (reply != nil) != c.blocked {
			t.Errorf("%s: blocked got %v, want %v", c.url, reply != nil, c.blocked)
			continue
		}
		if reply != nil && reply.Collapse != c.collapse {
			t.Errorf("%s: collapse got %v, want %v", c.url, reply.Collapse, c.collapse)
		}
	}
}

func TestFilterRequests_PerEntryCollapse(t *testing.T) {
	e := newTestEngine(t)
	raw := ask(t, e, wire.FilterRequests{
		What: wire.WhatFilterRequests,
		Requests: []wire.ResourceRequest{
			{Index: 0, TagName: "img", URL: "https://ads.example.net/1.png"},
			{Index: 1, TagName: "img", URL: "https://www.example.com/2.png"},
			{Index: 2, TagName: "iframe", URL: "https://tracker.example/f"},
		},
	})
	reply := wire.DecodeFilterRequestsReply(raw)
	if reply == nil || !reply.Collapse || len(reply.Requests) != 2 {
		t.Fatalf("got %s", raw)
	}
	if reply.Requests[0].Index != 0 || reply.Requests[0].Collapse != nil {
		t.Errorf("first: got %+v", reply.Requests[0])
	}
	if r := reply.Requests[1]; r.Index != 2 || r.Collapse == nil || *r.Collapse {
		t.Errorf("second: got %+v", r)
	}
}

func TestInjectedSelectorsCounted(t *testing.T) {
	e := newTestEngine(t)
	ask(t, e, wire.InjectedSelectors{What: wire.WhatInjectedSelectors, Type: wire.KindCosmetic, Hostname: "h", Selectors: []string{".a", ".b"}})
	ask(t, e, wire.InjectedSelectors{What: wire.WhatInjectedSelectors, Type: wire.KindNet, Hostname: "h", Selectors: []string{"img"}})
	if got := e.Stats()["h"]; got[wire.KindCosmetic] != 2 || got[wire.KindNet] != 1 {
		t.Errorf("got %v", got)
	}
}

func TestParseRules_BadMediumKey(t *testing.T) {
	for _, doc := range []string{
		"high:\n  hide_medium:\n    toolongkey: [a]\n",
		"high:\n  donthide_medium:\n    toolongkey: [a]\n",
	} {
		if _, err := ParseRules([]byte(doc)); err == nil {
			t.Errorf("%q: expected error", doc)
		}
	}
	if _, err := ParseRules([]byte("high:\n  hide_medium:\n    exämple.: [a]\n")); err != nil {
		t.Errorf("8 character non-ASCII key: %v", err)
	}
}

func TestBundle_DonthideHighFiltered(t *testing.T) {
	r, err := ParseRules([]byte("high:\n  hide_high: [.tower, .keep]\n  donthide_high: [.keep]\n"))
	if err != nil {
		t.Fatalf("parse rules: %v", err)
	}
	hg := r.bundle()
	if hg.HideHigh != ".tower" || hg.HideHighCount != 1 {
		t.Errorf("got HideHigh=%q count=%d, want %q 1", hg.HideHigh, hg.HideHighCount, ".tower")
	}
	if hg.DonthideHigh != ".keep" {
		t.Errorf("DonthideHigh: got %q, want %q", hg.DonthideHigh, ".keep")
	}
}

func TestServeTCP(t *testing.T) {
	e := newTestEngine(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go e.ServeTCP(ctx, ln)

	port, err := messaging.DialTCP(ctx, ln.Addr().String(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	ch := messaging.New(port)
	go ch.Serve(ctx)

	got := make(chan json.RawMessage, 1)
	ch.Ask(wire.NewRetrieveGeneric("https://x.example/", []string{"#banner"}, false), func(msg json.RawMessage) {
		got <- msg
	})
	select {
	case msg := <-got:
		reply := wire.DecodeGenericReply(msg)
		if reply == nil || !reflect.DeepEqual(reply.Hide, []string{"#banner"}) {
			t.Errorf("got %s", msg)
		}
	case <-ctx.Done():
		t.Fatal("no reply")
	}
}
