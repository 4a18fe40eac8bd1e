// Package engine is a small reference rule engine answering a session's
// asks from a static YAML rule set. It matches candidates by exact
// selector lookup and requests by host suffix; it does not parse filter
// lists.
package engine

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/domfilter/wire"
)

// Rules is the on-disk rule set.
type Rules struct {
	Generic GenericRules `yaml:"generic"`
	High    HighRules    `yaml:"high"`
	Network NetworkRules `yaml:"network"`
}

// GenericRules answer retrieveGenericCosmeticSelectors by exact candidate
// lookup.
type GenericRules struct {
	Hide     []string `yaml:"hide"`
	Donthide []string `yaml:"donthide"`
}

// HighRules form the high-generic bundle.
type HighRules struct {
	HideLow        []string            `yaml:"hide_low"`
	DonthideLow    []string            `yaml:"donthide_low"`
	HideMedium     map[string][]string `yaml:"hide_medium"`
	DonthideMedium map[string][]string `yaml:"donthide_medium"`
	HideHigh       []string            `yaml:"hide_high"`
	DonthideHigh   []string            `yaml:"donthide_high"`
}

// NetworkRules block resource requests whose host equals or is a
// subdomain of an entry.
type NetworkRules struct {
	Block    []string `yaml:"block"`
	Collapse bool     `yaml:"collapse"`
	// NoCollapse hosts are blocked but keep their layout box.
	NoCollapse []string `yaml:"no_collapse"`
}

// LoadRules reads a YAML rule file.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("engine: read rules: %w", err)
	}
	r, err := ParseRules(data)
	if err != nil {
		return nil, fmt.Errorf("engine: %s: %w", path, err)
	}
	return r, nil
}

// ParseRules decodes a YAML rule set.
func ParseRules(data []byte) (*Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	for name, buckets := range map[string]map[string][]string{
		"hide_medium":     r.High.HideMedium,
		"donthide_medium": r.High.DonthideMedium,
	} {
		for key := range buckets {
			if utf8.RuneCountInString(key) > 8 {
				return nil, fmt.Errorf("%s key %q longer than 8 characters", name, key)
			}
		}
	}
	return &r, nil
}

// bundle builds the high-generic bundle once per engine.
func (r *Rules) bundle() *wire.HighGenerics {
	hg := &wire.HighGenerics{
		HideLow:        wire.SelectorSet{},
		DonthideLow:    wire.SelectorSet{},
		HideMedium:     wire.HashBuckets{},
		DonthideMedium: wire.HashBuckets{},
	}
	for _, s := range r.High.HideLow {
		hg.HideLow[s] = true
	}
	for _, s := range r.High.DonthideLow {
		hg.DonthideLow[s] = true
	}
	for k, v := range r.High.HideMedium {
		hg.HideMedium[k] = strings.Join(v, wire.SelectorSeparator)
		hg.HideMediumCount += len(v)
	}
	for k, v := range r.High.DonthideMedium {
		hg.DonthideMedium[k] = strings.Join(v, wire.SelectorSeparator)
		hg.DonthideMediumCount += len(v)
	}
	hg.HideLowCount = len(hg.HideLow)
	hg.DonthideLowCount = len(hg.DonthideLow)
	var high []string
	for _, sel := range r.High.HideHigh {
		if !slices.Contains(r.High.DonthideHigh, sel) {
			high = append(high, sel)
		}
	}
	hg.HideHigh = strings.Join(high, wire.SelectorSeparator)
	hg.HideHighCount = len(high)
	hg.DonthideHigh = strings.Join(r.High.DonthideHigh, wire.SelectorSeparator)
	return hg
}

func hostMatches(host string, list []string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	for _, h := range list {
		h = strings.ToLower(h)
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}
