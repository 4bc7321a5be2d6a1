package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerify(t *testing.T) {
	sig := Sign("s3cret", "u1", "admin", "a@example.com")
	assert.NoError(t, Verify("s3cret", "u1", "admin", "a@example.com", sig))
	assert.ErrorIs(t, Verify("s3cret", "u1", "customer", "a@example.com", sig), ErrInvalidSignature)
	assert.NoError(t, Verify("", "u1", "admin", "", "anything"))
}

func TestCallerOwnership(t *testing.T) {
	customer := Caller{UserID: "u1", Role: RoleCustomer}
	admin := Caller{UserID: "a1", Role: RoleAdmin}

	assert.True(t, customer.Owns("u1"))
	assert.False(t, customer.Owns("u2"))
	assert.True(t, admin.Owns("u2"))
	assert.Equal(t, "user:u1", customer.Subject())
	assert.Equal(t, "system", System().Subject())
}

func TestParseRole(t *testing.T) {
	role, err := ParseRole("")
	require.NoError(t, err)
	assert.Equal(t, RoleCustomer, role)

	role, err = ParseRole("ADMIN")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, role)

	_, err = ParseRole("system")
	assert.ErrorIs(t, err, ErrInvalidIdentity)
}

func TestContextRoundTrip(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	ctx := WithCaller(context.Background(), Caller{UserID: "u1", Role: RoleCustomer})
	caller, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "u1", caller.UserID)
}
