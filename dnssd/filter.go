package dnssd

import (
	"fmt"
	"sync"

	"github.com/gobwas/glob"
)

// Filter is a predicate over a resolved service instance, expressed as a
// glob pattern over the instance's name and/or its TXT record strings.
//
// A zero-value Filter matches every instance.
type Filter struct {
	// NamePattern is a Unix-style glob pattern ('*', '?', '[...]') matched
	// against the instance's unqualified name. An empty pattern matches any
	// name.
	NamePattern string

	// TXTPatterns is an ordered list of Unix-style glob patterns, applied
	// left-to-right as successive filters over the instance's TXT record
	// strings. Each pattern narrows the surviving list to the strings it
	// matches; the patterns are ANDed in the sense that the instance only
	// matches if every pattern leaves at least one surviving string. An
	// empty list matches any (including empty) TXT record.
	TXTPatterns []string
}

// IsEmpty returns true if f does not restrict either the name or the TXT
// records, and therefore matches every instance.
func (f Filter) IsEmpty() bool {
	return f.NamePattern == "" && len(f.TXTPatterns) == 0
}

// Matches returns true if name and txt satisfy f.
//
// See spec §4.6: the name pattern and the TXT patterns are evaluated
// independently and ANDed together.
func (f Filter) Matches(name string, txt []string) (bool, error) {
	if f.NamePattern != "" {
		ok, err := globMatch(f.NamePattern, name)
		if err != nil {
			return false, fmt.Errorf("dnssd: invalid name pattern %q: %w", f.NamePattern, err)
		}
		if !ok {
			return false, nil
		}
	}

	if len(f.TXTPatterns) == 0 {
		return true, nil
	}

	remaining := txt
	for _, pattern := range f.TXTPatterns {
		var next []string

		for _, s := range remaining {
			ok, err := globMatch(pattern, s)
			if err != nil {
				return false, fmt.Errorf("dnssd: invalid TXT pattern %q: %w", pattern, err)
			}
			if ok {
				next = append(next, s)
			}
		}

		remaining = next
		if len(remaining) == 0 {
			return false, nil
		}
	}

	return true, nil
}

// globCache holds compiled globs keyed by pattern, shared across every
// Filter. A Filter is passed around by value (UserQuery.SecondaryFilter,
// the engine's primary filter) and re-evaluated on every refresh/projection
// cycle, so compiling the same pattern string repeatedly would otherwise be
// the dominant cost of filtering (§4.6).
var globCache sync.Map // pattern string -> glob.Glob

// compileGlob returns the compiled glob for pattern, compiling and caching
// it on first use.
func compileGlob(pattern string) (glob.Glob, error) {
	if g, ok := globCache.Load(pattern); ok {
		return g.(glob.Glob), nil
	}

	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, err
	}

	actual, _ := globCache.LoadOrStore(pattern, g)
	return actual.(glob.Glob), nil
}

// globMatch reports whether s satisfies the Unix-style glob pattern.
//
// Matching is case-sensitive, per spec §3's definition of [Filter].
func globMatch(pattern, s string) (bool, error) {
	g, err := compileGlob(pattern)
	if err != nil {
		return false, err
	}

	return g.Match(s), nil
}
