package persona

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Hash fields read from each persona key.
const (
	fieldProvider      = "provider"
	fieldModel         = "model"
	fieldCredentialKey = "credential_key"
	fieldDisplayName   = "display_name"
	fieldDescription   = "description"
)

// Redis resolves personas from Redis hashes, one hash per nickname:
//
//	HSET persona:Sarah provider openai model gpt-4o credential_key OPENAI_API_KEY
//
// The registry only ever reads. Whatever manages the study (the
// researcher dashboard, a seed script) owns the writes.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis returns a registry reading keys "<prefix><nickname>".
func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

// Resolve implements Registry.
func (r *Redis) Resolve(ctx context.Context, nickname string) (Mapping, error) {
	if nickname == "" {
		return Mapping{}, ErrNotFound
	}

	fields, err := r.client.HGetAll(ctx, r.prefix+nickname).Result()
	if err != nil {
		return Mapping{}, fmt.Errorf("reading persona %q: %w", nickname, err)
	}
	// HGETALL on a missing key is an empty map, not redis.Nil.
	if len(fields) == 0 {
		return Mapping{}, ErrNotFound
	}

	m := Mapping{
		Nickname:      nickname,
		Provider:      Provider(fields[fieldProvider]),
		Model:         fields[fieldModel],
		CredentialKey: fields[fieldCredentialKey],
		DisplayName:   fields[fieldDisplayName],
		Description:   fields[fieldDescription],
	}
	if err := validate(m); err != nil {
		return Mapping{}, fmt.Errorf("persona %q: %w", nickname, err)
	}
	if m.DisplayName == "" {
		m.DisplayName = m.Nickname
	}
	return m, nil
}

// List implements Registry. Entries that fail validation are skipped so
// one bad hash doesn't hide the rest of the directory.
func (r *Redis) List(ctx context.Context) ([]Mapping, error) {
	var out []Mapping

	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		nickname := strings.TrimPrefix(iter.Val(), r.prefix)
		m, err := r.Resolve(ctx, nickname)
		if err != nil {
			continue
		}
		out = append(out, m)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scanning personas: %w", err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Nickname < out[j].Nickname })
	return out, nil
}
