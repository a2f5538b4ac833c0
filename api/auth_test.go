package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/reward-engine/generic"
)

func TestAuthenticator_ExpiredToken(t *testing.T) {
	a := NewAuthenticator(testSecret, time.Minute, nil)
	issued := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return issued }

	tok, exp, err := a.IssueToken("sup-1", "s@example.com", generic.RoleSupervisor)
	require.NoError(t, err)
	assert.Equal(t, issued.Add(time.Minute), exp)

	p, err := a.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "sup-1", p.Subject)
	assert.True(t, p.IsStaff())

	a.now = func() time.Time { return issued.Add(2 * time.Minute) }
	_, err = a.Verify(tok)
	assert.ErrorIs(t, err, generic.ErrUnauthorized)
}

func TestAuthenticator_RejectsUnknownRole(t *testing.T) {
	a := NewAuthenticator(testSecret, time.Hour, nil)

	tok, _, err := a.IssueToken("x", "", generic.Role("root"))
	require.NoError(t, err)

	_, err = a.Verify(tok)
	assert.ErrorIs(t, err, generic.ErrUnauthorized)
}

func TestAuthorizeCustomer(t *testing.T) {
	ctx := context.Background()

	assert.ErrorIs(t, authorizeCustomer(ctx, "c-1"), generic.ErrUnauthorized)

	staff := withPrincipal(ctx, Principal{Subject: "sup-1", Role: generic.RoleSupervisor})
	assert.NoError(t, authorizeCustomer(staff, "c-1"))

	own := withPrincipal(ctx, Principal{Subject: "c-1", Role: generic.RoleCustomer})
	assert.NoError(t, authorizeCustomer(own, "c-1"))
	assert.ErrorIs(t, authorizeCustomer(own, "c-2"), generic.ErrForbidden)
}
