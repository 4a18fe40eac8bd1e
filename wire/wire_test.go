package wire

import (
	"encoding/json"
	"testing"
)

func TestDecodeGenericReply_NonObject(t *testing.T) {
	for _, in := range []string{``, `null`, `[]`, `"x"`, `42`, `{broken`} {
		if r := DecodeGenericReply(json.RawMessage(in)); r != nil {
			t.Errorf("DecodeGenericReply(%q): got %+v, want nil", in, r)
		}
	}
}

func TestDecodeGenericReply_MissingArrays(t *testing.T) {
	r := DecodeGenericReply(json.RawMessage(`{"hide":"oops"}`))
	if r == nil {
		t.Fatal("object reply must decode")
	}
	if len(r.Hide) != 0 || len(r.Donthide) != 0 {
		t.Errorf("got hide=%v donthide=%v, want empty", r.Hide, r.Donthide)
	}
	if r.HighGenerics != nil {
		t.Error("unexpected high generics")
	}
}

func TestDecodeGenericReply_Bundle(t *testing.T) {
	raw := `{
		"donthide": [".ok"],
		"hide": [".ad", 7, "#banner"],
		"highGenerics": {
			"hideLow": {"[title=\"Ad\"]": true, "[alt=\"x\"]": 0},
			"hideLowCount": 1,
			"hideMedium": {"ads.exam": "a[href^=\"https://ads.example.com\"]"},
			"hideMediumCount": 1,
			"donthideLow": ["img[alt=\"logo\"]"],
			"donthideLowCount": 1,
			"hideHigh": "div.sponsor,\ndiv[data-ad]",
			"hideHighCount": 2
		}
	}`
	r := DecodeGenericReply(json.RawMessage(raw))
	if r == nil || r.HighGenerics == nil {
		t.Fatal("expected reply with bundle")
	}
	if len(r.Hide) != 2 || r.Hide[0] != ".ad" || r.Hide[1] != "#banner" {
		t.Errorf("hide: got %v", r.Hide)
	}
	hg := r.HighGenerics
	if !hg.HideLow.Has(`[title="Ad"]`) {
		t.Error(`hideLow: missing [title="Ad"]`)
	}
	if hg.HideLow.Has(`[alt="x"]`) {
		t.Error(`hideLow: falsy entry [alt="x"] must be absent`)
	}
	if !hg.DonthideLow.Has(`img[alt="logo"]`) {
		t.Error("donthideLow: array form not accepted")
	}
	sels, ok := hg.HideMedium.Selectors("ads.exam")
	if !ok || len(sels) != 1 {
		t.Errorf("hideMedium: got %v, %v", sels, ok)
	}
	if got := hg.HighSelectors(); len(got) != 2 || got[1] != "div[data-ad]" {
		t.Errorf("HighSelectors: got %q", got)
	}
}

func TestDecodeGenericReply_BundleMistypedField(t *testing.T) {
	raw := `{
		"highGenerics": {
			"hideLow": {"[title=\"Ad\"]": true},
			"hideLowCount": "1",
			"hideMedium": 42,
			"hideMediumCount": 3,
			"hideHigh": "div.sponsor",
			"hideHighCount": {}
		}
	}`
	r := DecodeGenericReply(json.RawMessage(raw))
	if r == nil || r.HighGenerics == nil {
		t.Fatal("expected reply with bundle")
	}
	hg := r.HighGenerics
	if !hg.HideLow.Has(`[title="Ad"]`) || hg.HideLowCount != 1 {
		t.Errorf("hideLow: got %v count %d", hg.HideLow, hg.HideLowCount)
	}
	if len(hg.HideMedium) != 0 {
		t.Errorf("hideMedium: got %v, want empty", hg.HideMedium)
	}
	if hg.HideHigh != "div.sponsor" || hg.HideHighCount != 1 {
		t.Errorf("hideHigh: got %q count %d", hg.HideHigh, hg.HideHighCount)
	}
	if hg.DonthideLow == nil || hg.DonthideLowCount != 0 {
		t.Errorf("donthideLow: got %v count %d", hg.DonthideLow, hg.DonthideLowCount)
	}
}

func TestDecodeFilterReply(t *testing.T) {
	if r := DecodeFilterReply(json.RawMessage(`null`)); r != nil {
		t.Errorf("null: got %+v, want nil", r)
	}
	if r := DecodeFilterReply(json.RawMessage(`{"collapse":true}`)); r == nil || !r.Collapse {
		t.Errorf("collapse true: got %+v", r)
	}
	if r := DecodeFilterReply(json.RawMessage(`{}`)); r == nil || r.Collapse {
		t.Errorf("empty object: got %+v, want collapse=false", r)
	}
}

func TestDecodeFilterRequestsReply(t *testing.T) {
	raw := `{"collapse":1,"requests":[{"index":0,"tagName":"img","url":"http://a/x"},"bad",{"index":2,"tagName":"img","url":"http://a/z","collapse":false}]}`
	r := DecodeFilterRequestsReply(json.RawMessage(raw))
	if r == nil {
		t.Fatal("expected reply")
	}
	if !r.Collapse {
		t.Error("batch collapse: numeric 1 must be truthy")
	}
	if len(r.Requests) != 2 {
		t.Fatalf("requests: got %d, want 2", len(r.Requests))
	}
	if r.Requests[1].Collapse == nil || *r.Requests[1].Collapse {
		t.Errorf("per-request override: got %v", r.Requests[1].Collapse)
	}
}

func TestNewRetrieveGeneric_EncodesEmptySelectors(t *testing.T) {
	data, err := json.Marshal(NewRetrieveGeneric("https://x/", nil, true))
	if err != nil {
		t.Fatal(err)
	}
	want := `{"what":"retrieveGenericCosmeticSelectors","pageURL":"https://x/","selectors":[],"highGenerics":true}`
	if string(data) != want {
		t.Errorf("got %s, want %s", data, want)
	}
}
