// Package identity carries the caller established by the upstream identity
// component. The storefront never issues or stores credentials.
package identity

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
	RoleSystem   Role = "system"
)

var (
	ErrMissingIdentity  = errors.New("missing_identity")
	ErrInvalidIdentity  = errors.New("invalid_identity")
	ErrInvalidSignature = errors.New("invalid_identity_signature")
)

// Caller is the authenticated principal of a request.
type Caller struct {
	UserID string
	Role   Role
	Email  string
	Name   string
}

func (c Caller) IsAdmin() bool {
	return c.Role == RoleAdmin || c.Role == RoleSystem
}

// Owns reports whether the caller may act on a resource owned by userID.
func (c Caller) Owns(userID string) bool {
	return c.IsAdmin() || (c.UserID != "" && c.UserID == userID)
}

// Subject is the casbin subject for this caller.
func (c Caller) Subject() string {
	if c.Role == RoleSystem {
		return "system"
	}
	return "user:" + c.UserID
}

// System is the caller used by background jobs and gateway callbacks.
func System() Caller {
	return Caller{UserID: "system", Role: RoleSystem}
}

func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case "", RoleCustomer:
		return RoleCustomer, nil
	case RoleAdmin:
		return RoleAdmin, nil
	default:
		return "", ErrInvalidIdentity
	}
}

// Sign returns the hex HMAC-SHA256 the identity component attaches over
// "user_id|role|email".
func Sign(secret, userID, role, email string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(userID + "|" + role + "|" + email))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks the identity signature when a shared secret is configured.
func Verify(secret, userID, role, email, signature string) error {
	if secret == "" {
		return nil
	}
	expected := Sign(secret, userID, role, email)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature)))) {
		return ErrInvalidSignature
	}
	return nil
}

type callerKey struct{}

func WithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

func FromContext(ctx context.Context) (Caller, bool) {
	if ctx == nil {
		return Caller{}, false
	}
	caller, ok := ctx.Value(callerKey{}).(Caller)
	return caller, ok
}
