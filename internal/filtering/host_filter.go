package filtering

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// HostFilter is a compiled set of include and exclude host patterns.
type HostFilter struct {
	include []pattern
	exclude []pattern
}

type pattern struct {
	raw  string
	glob glob.Glob
}

// NewHostFilter compiles include and exclude. Blank patterns are ignored.
func NewHostFilter(include, exclude []string) (*HostFilter, error) {
	inc, err := compile(include)
	if err != nil {
		return nil, fmt.Errorf("invalid include pattern: %w", err)
	}
	exc, err := compile(exclude)
	if err != nil {
		return nil, fmt.Errorf("invalid exclude pattern: %w", err)
	}
	return &HostFilter{include: inc, exclude: exc}, nil
}

func compile(patterns []string) ([]pattern, error) {
	out := make([]pattern, 0, len(patterns))
	for _, p := range patterns {
		p = normalizeHost(p)
		if p == "" {
			continue
		}
		g, err := glob.Compile(p, '.')
		if err != nil {
			return nil, fmt.Errorf("%q: %v", p, err)
		}
		out = append(out, pattern{raw: p, glob: g})
	}
	return out, nil
}

// Allows reports whether host may be contacted, with the reason for the decision.
// A nil filter allows every host.
func (f *HostFilter) Allows(host string) (bool, string) {
	if f == nil {
		return true, "no host filter configured"
	}
	host = normalizeHost(host)

	for _, p := range f.exclude {
		if p.glob.Match(host) {
			return false, fmt.Sprintf("excluded by pattern '%s'", p.raw)
		}
	}
	if len(f.include) == 0 {
		return true, "no include patterns"
	}
	for _, p := range f.include {
		if p.glob.Match(host) {
			return true, fmt.Sprintf("included by pattern '%s'", p.raw)
		}
	}
	return false, "no match found in include patterns"
}

func normalizeHost(h string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(h)), ".")
}
