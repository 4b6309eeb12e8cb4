package audit

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"
)

// ErrAccessDenied is returned when the caller may not read audit history.
var ErrAccessDenied = errors.New("access denied: insufficient permissions")

// RoleAdmin is the role allowed to read history when no AccessControlFunc is configured.
const RoleAdmin = "admin"

// AccessControlFunc defines a function signature for custom access control
// checks when viewing audit history. Implementations should return nil for
// granted access or an error describing the permission failure.
type AccessControlFunc func(ctx context.Context) error

type roleKey struct{}

// WithRole attaches the caller's role to the context.
func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, roleKey{}, role)
}

// RoleFrom returns the role stored by WithRole, or "" if none was set.
func RoleFrom(ctx context.Context) string {
	role, _ := ctx.Value(roleKey{}).(string)
	return role
}

// CheckHistoryAccess is the default history check: the context must carry the
// admin role.
func CheckHistoryAccess(ctx context.Context) error {
	if RoleFrom(ctx) != RoleAdmin {
		return ErrAccessDenied
	}
	return nil
}

// RedactEmail masks the local part of an email address, keeping its first
// character (rune): "user@example.com" becomes "u****@example.com". Values that are
// not email addresses are returned unchanged.
func RedactEmail(s string) string {
	local, domain, ok := strings.Cut(s, "@")
	if !ok || local == "" || strings.Contains(domain, "@") {
		return s
	}
	_, size := utf8.DecodeRuneInString(local)
	return local[:size] + "****@" + domain
}
