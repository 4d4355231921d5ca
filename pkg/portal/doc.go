// Package portal issues and validates revocable portal tokens for external
// parties (clients, subcontractors, bidders).
//
// A portal token is an opaque bearer string. Only its SHA-256 hash is stored.
// Validation checks existence, revocation, then expiry, and is never cached,
// so revocation takes effect on the next request. A valid token is necessary
// but not sufficient: callers also need the capability flag for the action,
// a PIN session when the token is PIN protected, and an active grant when the
// token requires a claimed account.
//
// Every failure surfaces as ErrAccessDenied. The specific cause is carried on
// *DenialError for logs and metrics and must not be shown to the bearer.
package portal
