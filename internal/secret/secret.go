// Package secret resolves upstream API credentials by name.
//
// Personas never carry a key directly. They carry the NAME of a secret
// (e.g. "OPENAI_API_KEY"), and a Source turns that name into the actual
// value at request time. Swapping the process environment for a vault or
// a test fixture is just a different Source.
package secret

import "os"

// Source looks up a secret by key. The boolean is false when the secret
// is absent or empty.
type Source interface {
	Secret(key string) (string, bool)
}

// env reads secrets from the process environment.
type env struct{}

// Env returns a Source backed by os.LookupEnv. Call godotenv.Load (done
// by config.Load) before the first lookup if secrets live in a .env file.
func Env() Source {
	return env{}
}

func (env) Secret(key string) (string, bool) {
	if key == "" {
		return "", false
	}
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Static is a fixed in-memory Source, mostly useful for tests. It must
// not be mutated once handed to a server.
type Static map[string]string

func (s Static) Secret(key string) (string, bool) {
	v, ok := s[key]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
