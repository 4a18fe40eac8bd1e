package roddom

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/domfilter/dom"
)

// bindingName is the window function the page calls to signal Go.
const bindingName = "__domfilterSignal"

const (
	kindMutation = "mutation"
	kindResource = "resource"
)

// installJS arms one event source. Captured nodes are parked in a page
// side queue under a sequence id; only the id crosses the binding.
const installJS = `(binding, kind) => {
	const st = window[binding + 'State'] || (window[binding + 'State'] = {seq: 0, q: {}, on: {}});
	if (st.on[kind]) return true;
	const emit = (nodes, type) => {
		const id = ++st.seq;
		st.q[id] = nodes;
		window[binding](JSON.stringify({kind: kind, id: id, type: type || ''}));
	};
	if (kind === 'mutation') {
		if (!document.body) return false;
		new MutationObserver((records) => {
			const nodes = [];
			for (const r of records) {
				for (const n of r.addedNodes) {
					if (n.nodeType === 1) nodes.push(n);
				}
			}
			emit(nodes);
		}).observe(document.body, {childList: true, subtree: true});
	} else {
		const listen = (type) => document.addEventListener(type, (ev) => {
			const t = ev.target;
			if (t && t.nodeType === 1) emit([t], type);
		}, true);
		listen('load');
		listen('error');
	}
	st.on[kind] = true;
	return true;
}`

const takeJS = `(binding, id) => {
	const st = window[binding + 'State'];
	if (!st) return [];
	const nodes = st.q[id] || [];
	delete st.q[id];
	return nodes;
}`

// signal is the binding payload.
type signal struct {
	Kind string `json:"kind"`
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

func parseSignal(payload string) (signal, error) {
	var s signal
	if err := json.Unmarshal([]byte(payload), &s); err != nil {
		return s, err
	}
	if s.ID <= 0 || (s.Kind != kindMutation && s.Kind != kindResource) {
		return s, fmt.Errorf("roddom: bad signal %q", payload)
	}
	return s, nil
}

// install registers the binding and arms kind in the page.
func (d *Document) install(kind string) error {
	if err := (proto.RuntimeAddBinding{Name: bindingName}).Call(d.page); err != nil {
		return fmt.Errorf("roddom: add binding: %w", err)
	}
	res, err := d.page.Eval(installJS, bindingName, kind)
	if err != nil {
		return fmt.Errorf("roddom: install %s listener: %w", kind, err)
	}
	if !res.Value.Bool() {
		return fmt.Errorf("roddom: install %s listener: %w", kind, dom.ErrNoParent)
	}
	return nil
}

// signals forwards binding calls of kind until ctx ends. The event
// callback only decodes; node resolution runs on the returned channel's
// consumer so it never blocks rod's event dispatch.
func (d *Document) signals(ctx context.Context, kind string) <-chan signal {
	out := make(chan signal, 64)
	page := d.page.Context(ctx)
	wait := page.EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != bindingName {
			return
		}
		s, err := parseSignal(e.Payload)
		if err != nil {
			d.logger.Debug("roddom: drop signal", "error", err)
			return
		}
		if s.Kind != kind {
			return
		}
		select {
		case out <- s:
		case <-ctx.Done():
		}
	})
	go func() {
		wait()
		close(out)
	}()
	return out
}

func (d *Document) take(id int64) (rod.Elements, error) {
	return d.page.ElementsByJS(rod.Eval(takeJS, bindingName, id))
}

// Observe implements dom.Document. Each MutationObserver callback becomes
// one record listing the added elements.
func (d *Document) Observe(ctx context.Context) (<-chan []dom.MutationRecord, error) {
	sigs := d.signals(ctx, kindMutation)
	if err := d.install(kindMutation); err != nil {
		return nil, err
	}
	out := make(chan []dom.MutationRecord, 64)
	go func() {
		defer close(out)
		for s := range sigs {
			els, err := d.take(s.ID)
			if err != nil {
				d.logger.Debug("roddom: resolve mutation nodes", "id", s.ID, "error", err)
				continue
			}
			added := make([]dom.Node, 0, len(els))
			for _, el := range els {
				added = append(added, wrap(el))
			}
			select {
			case out <- []dom.MutationRecord{{Added: added}}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Resources implements dom.Document.
func (d *Document) Resources(ctx context.Context) (<-chan dom.ResourceEvent, error) {
	sigs := d.signals(ctx, kindResource)
	if err := d.install(kindResource); err != nil {
		return nil, err
	}
	out := make(chan dom.ResourceEvent, 64)
	go func() {
		defer close(out)
		for s := range sigs {
			els, err := d.take(s.ID)
			if err != nil || len(els) == 0 {
				continue
			}
			kind := dom.ResourceLoad
			if s.Type == "error" {
				kind = dom.ResourceError
			}
			select {
			case out <- dom.ResourceEvent{Kind: kind, Target: wrap(els.First())}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
