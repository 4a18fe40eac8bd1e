package wire

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Decoders below never fail: anything that is not the expected object
// decodes to nil, which callers treat as "nothing this round".

// DecodeGenericReply decodes a RetrieveGenericRequest reply.
func DecodeGenericReply(raw json.RawMessage) *GenericReply {
	if !isObject(raw) {
		return nil
	}
	var r struct {
		Donthide     lenientStrings  `json:"donthide"`
		Hide         lenientStrings  `json:"hide"`
		HighGenerics json.RawMessage `json:"highGenerics"`
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil
	}
	return &GenericReply{
		Donthide:     r.Donthide,
		Hide:         r.Hide,
		HighGenerics: decodeHighGenerics(r.HighGenerics),
	}
}

// decodeHighGenerics decodes the bundle field by field so one mistyped
// member only empties its own tier. A count that is not a number falls
// back to the size of its tier.
func decodeHighGenerics(raw json.RawMessage) *HighGenerics {
	if !isObject(raw) {
		return nil
	}
	var fields map[string]json.RawMessage
	if json.Unmarshal(raw, &fields) != nil {
		return nil
	}
	hg := &HighGenerics{}
	set := func(key string, s *SelectorSet) {
		if json.Unmarshal(fields[key], s) != nil || *s == nil {
			*s = SelectorSet{}
		}
	}
	buckets := func(key string, h *HashBuckets) {
		if json.Unmarshal(fields[key], h) != nil || *h == nil {
			*h = HashBuckets{}
		}
	}
	text := func(key string) string {
		var v string
		json.Unmarshal(fields[key], &v)
		return v
	}
	set("hideLow", &hg.HideLow)
	set("donthideLow", &hg.DonthideLow)
	buckets("hideMedium", &hg.HideMedium)
	buckets("donthideMedium", &hg.DonthideMedium)
	hg.HideHigh = text("hideHigh")
	hg.DonthideHigh = text("donthideHigh")

	hg.HideLowCount = lenientCount(fields["hideLowCount"], len(hg.HideLow))
	hg.DonthideLowCount = lenientCount(fields["donthideLowCount"], len(hg.DonthideLow))
	hg.HideMediumCount = lenientCount(fields["hideMediumCount"], len(hg.HideMedium))
	hg.DonthideMediumCount = lenientCount(fields["donthideMediumCount"], len(hg.DonthideMedium))
	hg.HideHighCount = lenientCount(fields["hideHighCount"], len(hg.HighSelectors()))
	return hg
}

// lenientCount decodes a tier count, accepting numeric strings.
func lenientCount(raw json.RawMessage, fallback int) int {
	var n float64
	if json.Unmarshal(raw, &n) == nil {
		return int(n)
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return int(f)
		}
	}
	return fallback
}

// DecodeFilterReply decodes a FilterRequest reply.
func DecodeFilterReply(raw json.RawMessage) *FilterReply {
	if !isObject(raw) {
		return nil
	}
	var r struct {
		Collapse json.RawMessage `json:"collapse"`
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil
	}
	return &FilterReply{Collapse: truthy(r.Collapse)}
}

// DecodeFilterRequestsReply decodes a FilterRequests reply. Entries that
// are not objects with an integral index are dropped.
func DecodeFilterRequestsReply(raw json.RawMessage) *FilterRequestsReply {
	if !isObject(raw) {
		return nil
	}
	var r struct {
		Collapse json.RawMessage   `json:"collapse"`
		Requests []json.RawMessage `json:"requests"`
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil
	}
	reply := &FilterRequestsReply{Collapse: truthy(r.Collapse)}
	for _, item := range r.Requests {
		var req ResourceRequest
		if !isObject(item) || json.Unmarshal(item, &req) != nil {
			continue
		}
		reply.Requests = append(reply.Requests, req)
	}
	return reply
}

// SelectorSet is a set of selectors. Engines send it as an object whose
// keys are selectors with truthy values; an array of selectors is also
// accepted.
type SelectorSet map[string]bool

// Has reports whether sel is in the set.
func (s SelectorSet) Has(sel string) bool { return s[sel] }

// UnmarshalJSON implements json.Unmarshaler.
func (s *SelectorSet) UnmarshalJSON(data []byte) error {
	set := SelectorSet{}
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || string(data) == "null":
	case data[0] == '[':
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		for _, sel := range list {
			set[sel] = true
		}
	default:
		var m map[string]json.RawMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		for sel, v := range m {
			if truthy(v) {
				set[sel] = true
			}
		}
	}
	*s = set
	return nil
}

// HashBuckets maps a medium-generic hash key to a SelectorSeparator-joined
// selector list. Array values are joined on decode.
type HashBuckets map[string]string

// Selectors returns the selectors stored under key.
func (h HashBuckets) Selectors(key string) ([]string, bool) {
	v, ok := h[key]
	if !ok {
		return nil, false
	}
	return strings.Split(v, SelectorSeparator), true
}

// UnmarshalJSON implements json.Unmarshaler.
func (h *HashBuckets) UnmarshalJSON(data []byte) error {
	out := HashBuckets{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*h = out
		return nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	for k, v := range m {
		var s string
		if json.Unmarshal(v, &s) == nil {
			out[k] = s
			continue
		}
		var list []string
		if json.Unmarshal(v, &list) == nil && len(list) > 0 {
			out[k] = strings.Join(list, SelectorSeparator)
		}
	}
	*h = out
	return nil
}

// lenientStrings decodes an array of strings, dropping non-string items.
// Anything else decodes to nil.
type lenientStrings []string

func (l *lenientStrings) UnmarshalJSON(data []byte) error {
	var items []json.RawMessage
	if json.Unmarshal(data, &items) != nil {
		*l = nil
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		var s string
		if json.Unmarshal(it, &s) == nil && s != "" {
			out = append(out, s)
		}
	}
	*l = out
	return nil
}

// truthy mirrors loose boolean coercion of JSON values.
func truthy(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return false
	}
	switch string(raw) {
	case "null", "false", "0", `""`, "-0":
		return false
	}
	if raw[0] == '"' || raw[0] == '{' || raw[0] == '[' || string(raw) == "true" {
		return true
	}
	var f float64
	if json.Unmarshal(raw, &f) == nil {
		return f != 0
	}
	return false
}
