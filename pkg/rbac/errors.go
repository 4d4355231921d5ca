package rbac

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrForbidden matches every *ForbiddenError
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound is returned by stores for a missing role or membership
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput is returned for malformed administrative requests
	ErrInvalidInput = errors.New("invalid input")
)

// ForbiddenError is returned by RequireAuthorization when a decision denies
type ForbiddenError struct {
	Permission string
	Reason     ReasonCode
	Scopes     []string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("forbidden: %s (%s; scopes: %s)", e.Permission, e.Reason, strings.Join(e.Scopes, ","))
}

// Is lets errors.Is(err, ErrForbidden) match
func (e *ForbiddenError) Is(target error) bool {
	return target == ErrForbidden
}

func forbidden(d Decision) *ForbiddenError {
	return &ForbiddenError{
		Permission: d.Permission,
		Reason:     d.Reason,
		Scopes:     append([]string(nil), d.ScopesEvaluated...),
	}
}
