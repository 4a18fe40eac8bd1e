package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/hazyhaar/domfilter/messaging"
	"github.com/hazyhaar/domfilter/wire"
)

// Stats counts what sessions reported back, per hostname and kind.
type Stats map[string]map[string]int

// Engine answers session asks from Rules.
type Engine struct {
	rules    *Rules
	hide     map[string]bool
	donthide map[string]bool
	high     *wire.HighGenerics
	logger   *slog.Logger

	mu    sync.Mutex
	stats Stats
}

// New builds an Engine.
func New(rules *Rules, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		rules:    rules,
		hide:     make(map[string]bool, len(rules.Generic.Hide)),
		donthide: make(map[string]bool, len(rules.Generic.Donthide)),
		high:     rules.bundle(),
		logger:   logger,
		stats:    Stats{},
	}
	for _, s := range rules.Generic.Hide {
		e.hide[s] = true
	}
	for _, s := range rules.Generic.Donthide {
		e.donthide[s] = true
	}
	return e
}

// Handle answers one message. It is a messaging.HandlerFunc.
func (e *Engine) Handle(_ context.Context, raw json.RawMessage) (any, error) {
	var env wire.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("engine: decode envelope: %w", err)
	}
	switch env.What {
	case wire.WhatRetrieveGeneric:
		var req wire.RetrieveGenericRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("engine: decode %s: %w", env.What, err)
		}
		return e.retrieveGeneric(req), nil

	case wire.WhatFilterRequest:
		var req wire.FilterRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("engine: decode %s: %w", env.What, err)
		}
		if reply := e.filterRequest(req); reply != nil {
			return reply, nil
		}
		return nil, nil

	case wire.WhatFilterRequests:
		var req wire.FilterRequests
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("engine: decode %s: %w", env.What, err)
		}
		return e.filterRequests(req), nil

	case wire.WhatInjectedSelectors:
		var rep wire.InjectedSelectors
		if err := json.Unmarshal(raw, &rep); err != nil {
			return nil, fmt.Errorf("engine: decode %s: %w", env.What, err)
		}
		e.record(rep)
		return nil, nil
	}
	e.logger.Debug("engine: unknown message", "what", env.What)
	return nil, nil
}

func (e *Engine) retrieveGeneric(req wire.RetrieveGenericRequest) wire.GenericReply {
	reply := wire.GenericReply{Hide: []string{}, Donthide: []string{}}
	for _, sel := range req.Selectors {
		if e.donthide[sel] {
			reply.Donthide = append(reply.Donthide, sel)
		}
		if e.hide[sel] {
			reply.Hide = append(reply.Hide, sel)
		}
	}
	if req.HighGenerics {
		reply.HighGenerics = e.high
	}
	return reply
}

func (e *Engine) blocked(rawURL string) (collapse, ok bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return false, false
	}
	host := u.Hostname()
	if !hostMatches(host, e.rules.Network.Block) {
		return false, false
	}
	return e.rules.Network.Collapse && !hostMatches(host, e.rules.Network.NoCollapse), true
}

func (e *Engine) filterRequest(req wire.FilterRequest) *wire.FilterReply {
	collapse, ok := e.blocked(req.RequestURL)
	if !ok {
		return nil
	}
	return &wire.FilterReply{Collapse: collapse}
}

func (e *Engine) filterRequests(req wire.FilterRequests) wire.FilterRequestsReply {
	reply := wire.FilterRequestsReply{
		Collapse: e.rules.Network.Collapse,
		Requests: []wire.ResourceRequest{},
	}
	for _, r := range req.Requests {
		collapse, ok := e.blocked(r.URL)
		if !ok {
			continue
		}
		if collapse != reply.Collapse {
			c := collapse
			r.Collapse = &c
		}
		reply.Requests = append(reply.Requests, r)
	}
	return reply
}

func (e *Engine) record(rep wire.InjectedSelectors) {
	e.mu.Lock()
	defer e.mu.Unlock()
	byKind := e.stats[rep.Hostname]
	if byKind == nil {
		byKind = map[string]int{}
		e.stats[rep.Hostname] = byKind
	}
	byKind[rep.Type] += len(rep.Selectors)
}

// Stats returns a copy of the reported counts.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(Stats, len(e.stats))
	for host, byKind := range e.stats {
		m := make(map[string]int, len(byKind))
		for k, v := range byKind {
			m[k] = v
		}
		out[host] = m
	}
	return out
}

// Serve answers one port until it disconnects or ctx ends.
func (e *Engine) Serve(ctx context.Context, port messaging.Port) error {
	return messaging.NewResponder(port, e.Handle, e.logger).Serve(ctx)
}
