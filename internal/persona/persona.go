// Package persona maps participant-facing nicknames to the concrete
// provider, model and credential that answer for them.
//
// Participants only ever see the nickname ("Sarah", "James", ...). The
// mapping behind it is what makes blinded comparisons possible, so the
// registry is deliberately strict: exact, case-sensitive lookups, and no
// fallback to a different persona when a nickname is unknown.
package persona

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Resolve when no persona has the nickname.
var ErrNotFound = errors.New("persona not found")

// Provider names an upstream API family. The values double as adapter
// names in the provider package and as config values.
type Provider string

const (
	OpenAI        Provider = "openai"
	MetaInference Provider = "meta"
	Google        Provider = "google"
	Anthropic     Provider = "anthropic"
	LocalGateway  Provider = "local"
)

// Providers lists every supported provider family.
var Providers = []Provider{OpenAI, MetaInference, Google, Anthropic, LocalGateway}

// Valid reports whether p is one of the known provider families.
func (p Provider) Valid() bool {
	for _, known := range Providers {
		if p == known {
			return true
		}
	}
	return false
}

// Mapping is one persona: the nickname participants see, and what it
// really routes to.
type Mapping struct {
	Nickname      string
	Provider      Provider
	Model         string // provider-specific model id, e.g. "gpt-4o"
	CredentialKey string // name of the secret holding the upstream key

	// Shown in the persona directory. Neither reveals the upstream.
	DisplayName string
	Description string
}

// Registry resolves nicknames. Implementations must be safe for
// concurrent use; the chat router calls Resolve from every request.
type Registry interface {
	// Resolve returns the mapping for nickname, or ErrNotFound.
	Resolve(ctx context.Context, nickname string) (Mapping, error)

	// List returns every persona, sorted by nickname.
	List(ctx context.Context) ([]Mapping, error)
}
