package client

import (
	"context"
	"strings"
)

// TokenSource supplies the bearer token for outgoing requests. Acquiring and
// refreshing tokens is the job of the surrounding auth flow.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed bearer token. The empty token sends no header.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	return strings.TrimSpace(string(t)), nil
}
