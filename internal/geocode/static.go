package geocode

import (
	"context"
	"sort"
	"strings"

	"github.com/JonMunkholm/activism/internal/core"
)

var (
	_ core.AddressValidator = (*Static)(nil)
	_ core.Geocoder         = (*Static)(nil)
)

// Static validates addresses against a fixed list. It backs offline runs
// of the CLI and tests.
type Static struct {
	addresses map[string]core.Coordinates
	known     []string
}

// NewStatic creates a validator accepting exactly the given addresses.
func NewStatic(addresses map[string]core.Coordinates) *Static {
	s := &Static{addresses: make(map[string]core.Coordinates, len(addresses))}
	for a, c := range addresses {
		s.addresses[normalize(a)] = c
		s.known = append(s.known, a)
	}
	sort.Strings(s.known)
	return s
}

// AcceptAll is a validator that accepts every address without coordinates.
type AcceptAll struct{}

func (AcceptAll) ValidateAddress(context.Context, string) (bool, error) { return true, nil }

func (AcceptAll) AddressSuggestions(context.Context, string) ([]string, error) { return nil, nil }

// ValidateAddress implements core.AddressValidator.
func (s *Static) ValidateAddress(_ context.Context, address string) (bool, error) {
	_, ok := s.addresses[normalize(address)]
	return ok, nil
}

// AddressSuggestions returns the known addresses sharing a word with the input.
func (s *Static) AddressSuggestions(_ context.Context, address string) ([]string, error) {
	words := strings.Fields(normalize(address))
	var out []string
	for _, known := range s.known {
		k := normalize(known)
		for _, w := range words {
			if strings.Contains(k, w) {
				out = append(out, known)
				break
			}
		}
		if len(out) == MaxSuggestions {
			break
		}
	}
	return out, nil
}

// Geocode implements core.Geocoder.
func (s *Static) Geocode(_ context.Context, address string) (core.Coordinates, bool, error) {
	c, ok := s.addresses[normalize(address)]
	return c, ok, nil
}
