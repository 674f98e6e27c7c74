package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
)

// maxResponseBytes caps how much of an upstream body we read. Chat replies
// are small; anything past this is almost certainly not a chat reply.
const maxResponseBytes = 4 << 20

// Kind classifies an upstream failure.
type Kind string

const (
	KindUnreachable Kind = "upstream_unreachable"
	KindTimeout     Kind = "upstream_timeout"
)

// Sentinels for errors.Is checks against an *UpstreamError's Kind.
var (
	ErrUpstreamUnreachable = errors.New("upstream unreachable")
	ErrUpstreamTimeout     = errors.New("upstream timeout")
)

// UpstreamError is returned by Invoke when the upstream could not produce
// a response body at all. A body that merely lacks the reply field is NOT
// an error; ParseReply degrades that to a raw echo.
type UpstreamError struct {
	Kind     Kind
	Provider string
	Err      error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Is lets callers match on the failure kind:
//
//	errors.Is(err, provider.ErrUpstreamTimeout)
func (e *UpstreamError) Is(target error) bool {
	switch target {
	case ErrUpstreamTimeout:
		return e.Kind == KindTimeout
	case ErrUpstreamUnreachable:
		return e.Kind == KindUnreachable
	}
	return false
}

// Invoke performs one upstream call: build the request, send it, read the
// body, extract the reply. The status code is not checked:
// an upstream error body (e.g. {"error":{"message":"invalid key"}}) has no
// reply field, so ParseReply echoes it back verbatim.
//
// Callers bound the call by putting a deadline on ctx, and a deadline hit
// comes back as KindTimeout rather than KindUnreachable.
func Invoke(ctx context.Context, client *http.Client, a Adapter, call Call) (string, error) {
	req, err := a.BuildRequest(ctx, call)
	if err != nil {
		return "", &UpstreamError{
			Kind:     KindUnreachable,
			Provider: a.Name(),
			Err:      fmt.Errorf("building request: %w", err),
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", classify(ctx, a.Name(), fmt.Errorf("sending request: %w", err))
	}
	// Close the body or the connection can't go back to the pool.
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", classify(ctx, a.Name(), fmt.Errorf("reading response: %w", err))
	}

	return a.ParseReply(raw), nil
}

// classify decides whether a transport failure was a timeout.
func classify(ctx context.Context, name string, err error) error {
	kind := KindUnreachable

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		kind = KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = KindTimeout
	}

	return &UpstreamError{Kind: kind, Provider: name, Err: err}
}
