package service

import (
	"context"
	"fmt"
	"strings"
)

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOperator Role = "operator"
	RoleViewer   Role = "viewer"
)

// Identity is who issued a manual command.
type Identity struct {
	Subject string
	Role    Role
}

// DefaultOperator is used for sessions when no IdentityProvider is
// configured.
var DefaultOperator = Identity{Subject: "session", Role: RoleOperator}

// IdentityProvider resolves a bearer token to an Identity.
type IdentityProvider interface {
	Resolve(ctx context.Context, token string) (Identity, error)
}

// AuthorizeCommand allows admins and operators to change sensor state.
func AuthorizeCommand(id Identity) error {
	switch id.Role {
	case RoleAdmin, RoleOperator:
		return nil
	}
	return fmt.Errorf("%w: role %q may not issue sensor commands", ErrForbidden, id.Role)
}

// StaticTokens is an IdentityProvider backed by a fixed token table.
type StaticTokens map[string]Identity

// ParseStaticTokens reads entries of the form "token=subject:role".
func ParseStaticTokens(entries []string) (StaticTokens, error) {
	out := make(StaticTokens, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		token, rest, ok := strings.Cut(e, "=")
		if !ok || token == "" {
			return nil, fmt.Errorf("auth token %q: want token=subject:role", e)
		}
		subject, role, ok := strings.Cut(rest, ":")
		if !ok || subject == "" {
			return nil, fmt.Errorf("auth token %q: want token=subject:role", e)
		}
		switch r := Role(role); r {
		case RoleAdmin, RoleOperator, RoleViewer:
			out[token] = Identity{Subject: subject, Role: r}
		default:
			return nil, fmt.Errorf("auth token %q: unknown role %q", e, role)
		}
	}
	return out, nil
}

func (s StaticTokens) Resolve(_ context.Context, token string) (Identity, error) {
	id, ok := s[token]
	if !ok {
		return Identity{}, fmt.Errorf("%w: unknown token", ErrForbidden)
	}
	return id, nil
}
