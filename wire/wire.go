// Package wire defines the message contract between a page session and
// the rule engine. Field names are load-bearing: engines in other
// languages speak the same JSON.
package wire

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// Request discriminators carried in the "what" field.
const (
	WhatRetrieveGeneric   = "retrieveGenericCosmeticSelectors"
	WhatFilterRequest     = "filterRequest"
	WhatFilterRequests    = "filterRequests"
	WhatInjectedSelectors = "injectedSelectors"
)

// Injection report kinds.
const (
	KindCosmetic = "cosmetic"
	KindNet      = "net"
)

// SelectorSeparator joins selectors inside bundle values and stylesheets.
const SelectorSeparator = ",\n"

// Envelope peeks at the discriminator of any request.
type Envelope struct {
	What string `json:"what"`
}

// RetrieveGenericRequest asks which candidate selectors match generic
// filters, and optionally for the high-generic bundle.
type RetrieveGenericRequest struct {
	What         string   `json:"what"`
	PageURL      string   `json:"pageURL"`
	Selectors    []string `json:"selectors"`
	HighGenerics bool     `json:"highGenerics"`
}

// NewRetrieveGeneric builds a RetrieveGenericRequest. Selectors is never
// encoded as null.
func NewRetrieveGeneric(pageURL string, selectors []string, wantHigh bool) RetrieveGenericRequest {
	if selectors == nil {
		selectors = []string{}
	}
	return RetrieveGenericRequest{
		What:         WhatRetrieveGeneric,
		PageURL:      pageURL,
		Selectors:    selectors,
		HighGenerics: wantHigh,
	}
}

// GenericReply answers RetrieveGenericRequest.
type GenericReply struct {
	Donthide     []string      `json:"donthide"`
	Hide         []string      `json:"hide"`
	HighGenerics *HighGenerics `json:"highGenerics,omitempty"`
}

// HighGenerics is the page-lifetime bundle of costly generic selectors.
//
// Low maps hold [title]/[alt] attribute selectors, Medium maps are keyed by
// the 8 characters following "://" in an anchor href, High is one large
// selector list joined with SelectorSeparator.
type HighGenerics struct {
	DonthideLow         SelectorSet `json:"donthideLow"`
	DonthideLowCount    int         `json:"donthideLowCount"`
	DonthideMedium      HashBuckets `json:"donthideMedium"`
	DonthideMediumCount int         `json:"donthideMediumCount"`
	DonthideHigh        string      `json:"donthideHigh"`
	HideLow             SelectorSet `json:"hideLow"`
	HideLowCount        int         `json:"hideLowCount"`
	HideMedium          HashBuckets `json:"hideMedium"`
	HideMediumCount     int         `json:"hideMediumCount"`
	HideHigh            string      `json:"hideHigh"`
	HideHighCount       int         `json:"hideHighCount"`
}

// HighSelectors splits HideHigh into individual selectors.
func (h *HighGenerics) HighSelectors() []string {
	if h == nil || h.HideHigh == "" {
		return nil
	}
	return strings.Split(h.HideHigh, SelectorSeparator)
}

// FilterRequest asks whether a single resource request is blocked.
type FilterRequest struct {
	What         string `json:"what"`
	TagName      string `json:"tagName"`
	RequestURL   string `json:"requestURL"`
	PageHostname string `json:"pageHostname"`
	PageURL      string `json:"pageURL"`
}

// FilterReply answers FilterRequest. An engine replies null when the
// request is allowed.
type FilterReply struct {
	Collapse bool `json:"collapse"`
}

// ResourceRequest is one element of a startup sweep, keyed by Index.
// Collapse, when set by the engine, overrides the batch-level decision
// for this entry.
type ResourceRequest struct {
	Index    int    `json:"index"`
	TagName  string `json:"tagName"`
	URL      string `json:"url"`
	Collapse *bool  `json:"collapse,omitempty"`
}

// FilterRequests batches the startup sweep.
type FilterRequests struct {
	What         string            `json:"what"`
	PageURL      string            `json:"pageURL"`
	PageHostname string            `json:"pageHostname"`
	Requests     []ResourceRequest `json:"requests"`
}

// FilterRequestsReply lists the blocked entries of a FilterRequests batch.
type FilterRequestsReply struct {
	Collapse bool              `json:"collapse"`
	Requests []ResourceRequest `json:"requests"`
}

// InjectedSelectors reports what a session applied. Fire-and-forget.
type InjectedSelectors struct {
	What      string   `json:"what"`
	Type      string   `json:"type"`
	Hostname  string   `json:"hostname"`
	Selectors []string `json:"selectors"`
}

// Report is the locally recorded form of an injection, delivered to sinks.
type Report struct {
	SessionID string    `json:"session_id"`
	PageURL   string    `json:"page_url"`
	Hostname  string    `json:"hostname"`
	Type      string    `json:"type"`
	Selectors []string  `json:"selectors"`
	At        time.Time `json:"at"`
}

// isObject reports whether raw is a JSON object.
func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}
