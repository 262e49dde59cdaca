package currency

import (
	"sort"
	"strings"
)

// Set is the administratively curated list of supported quote currencies.
// The rate cache, the settings resolver and the public rate board all
// consult the same set; it is never inferred from whatever keys a provider
// response happens to contain. The version number changes whenever the list
// is amended so operators can correlate behaviour with a roll-out.
type Set struct {
	version int
	codes   []string
	index   map[string]struct{}
}

// NewSet builds a Set from the given ISO 4217 codes. Codes are upper-cased
// and de-duplicated.
func NewSet(version int, codes ...string) *Set {
	s := &Set{
		version: version,
		index:   make(map[string]struct{}, len(codes)),
	}
	for _, c := range codes {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		if _, ok := s.index[c]; ok {
			continue
		}
		s.index[c] = struct{}{}
		s.codes = append(s.codes, c)
	}
	sort.Strings(s.codes)
	return s
}

// Default returns the currently rolled-out supported set.
func Default() *Set {
	return NewSet(3,
		"PHP", "INR", "IDR", "VND", "THB",
		"BRL", "MXN", "NGN", "KES", "EUR",
	)
}

// Contains reports whether code is a supported quote currency.
func (s *Set) Contains(code string) bool {
	_, ok := s.index[strings.ToUpper(code)]
	return ok
}

// Codes returns a sorted copy of the supported codes.
func (s *Set) Codes() []string {
	out := make([]string, len(s.codes))
	copy(out, s.codes)
	return out
}

// Version returns the administrative version of the set.
func (s *Set) Version() int { return s.version }

// Len returns the number of supported currencies.
func (s *Set) Len() int { return len(s.codes) }
