package filter

import (
	"encoding/json"
	"strings"

	"github.com/hazyhaar/domfilter/dom"
	"github.com/hazyhaar/domfilter/wire"
)

// Resource-bearing attributes per tag, by event kind.
var (
	loadedSources = map[string]string{
		"iframe": "src",
	}
	failedSources = map[string]string{
		"img":    "src",
		"input":  "src",
		"object": "data",
	}
	sweepSources = map[string]string{
		"embed":  "src",
		"iframe": "src",
		"img":    "src",
		"object": "data",
	}
)

// sweepOrder fixes the index order of the startup sweep.
var sweepOrder = []string{"object", "img", "iframe", "embed"}

// onResource asks the engine about one loaded or failed resource.
func (s *Session) onResource(ev dom.ResourceEvent) {
	el := ev.Target
	if el == nil {
		return
	}
	table := failedSources
	if ev.Kind == dom.ResourceLoad {
		table = loadedSources
	}
	tag := el.TagName()
	attr, ok := table[tag]
	if !ok {
		return
	}
	src := el.Prop(attr)
	if !strings.HasPrefix(src, "http") {
		return
	}

	req := wire.FilterRequest{
		What:         wire.WhatFilterRequest,
		TagName:      tag,
		RequestURL:   src,
		PageHostname: s.hostname,
		PageURL:      s.pageURL,
	}
	s.ask(req, func(raw json.RawMessage) {
		reply := wire.DecodeFilterReply(raw)
		if reply == nil {
			return
		}
		s.applyCollapse(el, reply.Collapse)
		s.reportNet([]string{netSelector(tag, attr, src)})
	})
}

// sweepResources asks about every resource element present at startup in
// a single request.
func (s *Session) sweepResources() {
	var (
		elements []dom.Element
		requests []wire.ResourceRequest
	)
	for _, tag := range sweepOrder {
		attr := sweepSources[tag]
		els, err := s.doc.QueryAll(tag)
		if err != nil {
			s.logger.Warn("filter: sweep query", "tag", tag, "error", err)
			continue
		}
		for _, el := range els {
			src := el.Prop(attr)
			if !strings.HasPrefix(src, "http") {
				continue
			}
			requests = append(requests, wire.ResourceRequest{
				Index:   len(elements),
				TagName: tag,
				URL:     src,
			})
			elements = append(elements, el)
		}
	}
	if len(requests) == 0 {
		return
	}

	req := wire.FilterRequests{
		What:         wire.WhatFilterRequests,
		PageURL:      s.pageURL,
		PageHostname: s.hostname,
		Requests:     requests,
	}
	s.ask(req, func(raw json.RawMessage) {
		reply := wire.DecodeFilterRequestsReply(raw)
		if reply == nil {
			return
		}
		var selectors []string
		for _, blocked := range reply.Requests {
			if blocked.Index < 0 || blocked.Index >= len(elements) {
				s.logger.Debug("filter: sweep index out of range", "index", blocked.Index)
				continue
			}
			collapse := reply.Collapse
			if blocked.Collapse != nil {
				collapse = *blocked.Collapse
			}
			own := requests[blocked.Index]
			s.applyCollapse(elements[blocked.Index], collapse)
			selectors = append(selectors, netSelector(own.TagName, sweepSources[own.TagName], own.URL))
		}
		s.reportNet(selectors)
	})
}

// applyCollapse hides a blocked element. Collapsing removes it from
// layout; otherwise it keeps its box but is not painted.
func (s *Session) applyCollapse(el dom.Element, collapse bool) {
	if !collapse {
		if err := el.SetStyle("visibility", "hidden"); err != nil {
			s.logger.Debug("filter: hide blocked element", "error", err)
		}
		return
	}
	removed, err := el.Remove()
	if err != nil {
		s.logger.Debug("filter: remove blocked element", "error", err)
	}
	if !removed {
		if err := el.SetStyle("display", "none"); err != nil {
			s.logger.Debug("filter: collapse blocked element", "error", err)
		}
	}
}

func (s *Session) reportNet(selectors []string) {
	if len(selectors) == 0 {
		return
	}
	s.net.Add(int64(len(selectors)))
	s.report(wire.KindNet, selectors)
}

// netSelector reproduces the element a blocked request came from.
func netSelector(tag, attr, url string) string {
	return tag + "[" + attr + `="` + url + `"]`
}
