package persona

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// Static is an immutable, in-memory registry built once at startup from
// configuration.
type Static struct {
	byNickname map[string]Mapping
	sorted     []Mapping
}

// NewStatic validates mappings and builds a registry from them. Every
// problem found is reported, not just the first one, so a bad config
// file can be fixed in one pass.
func NewStatic(mappings []Mapping) (*Static, error) {
	s := &Static{byNickname: make(map[string]Mapping, len(mappings))}

	var errs []error
	for i, m := range mappings {
		if err := validate(m); err != nil {
			errs = append(errs, fmt.Errorf("persona %d (%q): %w", i, m.Nickname, err))
			continue
		}
		if _, dup := s.byNickname[m.Nickname]; dup {
			errs = append(errs, fmt.Errorf("persona %d: duplicate nickname %q", i, m.Nickname))
			continue
		}
		if m.DisplayName == "" {
			m.DisplayName = m.Nickname
		}
		s.byNickname[m.Nickname] = m
		s.sorted = append(s.sorted, m)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	sort.Slice(s.sorted, func(i, j int) bool {
		return s.sorted[i].Nickname < s.sorted[j].Nickname
	})
	return s, nil
}

func validate(m Mapping) error {
	switch {
	case m.Nickname == "":
		return errors.New("nickname is required")
	case !m.Provider.Valid():
		return fmt.Errorf("unknown provider %q", m.Provider)
	case m.Model == "":
		return errors.New("model is required")
	case m.CredentialKey == "":
		return errors.New("credential_key is required")
	}
	return nil
}

// Resolve implements Registry.
func (s *Static) Resolve(_ context.Context, nickname string) (Mapping, error) {
	m, ok := s.byNickname[nickname]
	if !ok {
		return Mapping{}, ErrNotFound
	}
	return m, nil
}

// List implements Registry. The returned slice is a copy.
func (s *Static) List(_ context.Context) ([]Mapping, error) {
	out := make([]Mapping, len(s.sorted))
	copy(out, s.sorted)
	return out, nil
}
