package rbac

import (
	"context"
	"strings"
)

// IdentityResolver looks up an actor's email and its verification state
type IdentityResolver interface {
	VerifiedEmail(ctx context.Context, actorID string) (email string, verified bool, err error)
}

// AllowList is the static superadmin allow-list, matched by actor id or by
// verified email
type AllowList struct {
	ids        map[string]bool
	emails     map[string]bool
	identities IdentityResolver
}

// NewAllowList builds an allow-list. Emails are matched case-insensitively
// and only when identities is set.
func NewAllowList(ids, emails []string, identities IdentityResolver) *AllowList {
	a := &AllowList{
		ids:        make(map[string]bool),
		emails:     make(map[string]bool),
		identities: identities,
	}
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			a.ids[id] = true
		}
	}
	for _, email := range emails {
		if email = normalizeEmail(email); email != "" {
			a.emails[email] = true
		}
	}
	return a
}

// Empty reports whether nothing is allow-listed
func (a *AllowList) Empty() bool {
	return a == nil || (len(a.ids) == 0 && len(a.emails) == 0)
}

// Contains reports whether actorID is a superadmin. An identity lookup
// failure is returned alongside false.
func (a *AllowList) Contains(ctx context.Context, actorID string) (bool, error) {
	if a == nil {
		return false, nil
	}
	if a.ids[actorID] {
		return true, nil
	}
	if len(a.emails) == 0 || a.identities == nil {
		return false, nil
	}

	email, verified, err := a.identities.VerifiedEmail(ctx, actorID)
	if err != nil {
		return false, err
	}
	return verified && a.emails[normalizeEmail(email)], nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
