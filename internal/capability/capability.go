// Package capability discovers and caches the wire formats and features a
// remote endpoint supports.
package capability

import (
	"sort"
	"time"

	"github.com/shuttlefile/shuttle/internal/codec"
)

// Feature names the client understands.
const (
	FeatureRange    = "range"
	FeatureChecksum = "checksum"
	FeatureResume   = "resume"
)

// Wire is the capability payload exchanged with an endpoint, read from
// response headers and/or an optional JSON body.
type Wire struct {
	Formats           []string `json:"formats" msgpack:"formats"`
	Features          []string `json:"features" msgpack:"features"`
	RecommendedFormat string   `json:"recommendedFormat,omitempty" msgpack:"recommendedFormat,omitempty"`
	MinClientVersion  string   `json:"minClientVersion,omitempty" msgpack:"minClientVersion,omitempty"`
}

// ClientWire returns the capabilities this client advertises in its probe.
func ClientWire() Wire {
	return Wire{
		Formats:  []string{string(codec.FormatBinary), string(codec.FormatCompressedText), string(codec.FormatText)},
		Features: []string{FeatureRange, FeatureChecksum},
	}
}

// Profile is the negotiated view of one endpoint, cached until CachedUntil.
type Profile struct {
	EndpointKey string
	Formats     map[codec.Format]struct{}
	Features    map[string]struct{}
	Recommended codec.Format
	CachedUntil time.Time
}

// Supports reports whether the endpoint declared the given format.
func (p *Profile) Supports(f codec.Format) bool {
	_, ok := p.Formats[f]
	return ok
}

// HasFeature reports whether the endpoint declared the given feature.
func (p *Profile) HasFeature(name string) bool {
	_, ok := p.Features[name]
	return ok
}

// FormatNames returns the declared formats in priority order, any unknown
// formats last in lexical order.
func (p *Profile) FormatNames() []string {
	var names []string
	seen := make(map[codec.Format]bool)
	for _, f := range codec.Priority {
		if p.Supports(f) {
			names = append(names, string(f))
			seen[f] = true
		}
	}
	var rest []string
	for f := range p.Formats {
		if !seen[f] {
			rest = append(rest, string(f))
		}
	}
	sort.Strings(rest)
	return append(names, rest...)
}

// FeatureNames returns the declared features sorted.
func (p *Profile) FeatureNames() []string {
	names := make([]string, 0, len(p.Features))
	for f := range p.Features {
		names = append(names, f)
	}
	sort.Strings(names)
	return names
}

// Fallback is the conservative profile used when negotiation fails: plain
// text only, no optional features. Negotiation failures are absorbed, never
// propagated.
func Fallback(endpointKey string, until time.Time) *Profile {
	return &Profile{
		EndpointKey: endpointKey,
		Formats:     map[codec.Format]struct{}{codec.FormatText: {}},
		Features:    map[string]struct{}{},
		Recommended: codec.FormatText,
		CachedUntil: until,
	}
}
