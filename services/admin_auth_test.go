package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminLoginAndValidate(t *testing.T) {
	clock := newFakeClock()
	auth, err := NewAdminAuth("", "hunter2", "jwt-secret", time.Hour, clock)
	require.NoError(t, err)
	require.True(t, auth.Enabled())

	_, _, err = auth.Login("wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	token, expires, err := auth.Login("hunter2")
	require.NoError(t, err)
	assert.Equal(t, testEpoch.Add(time.Hour).Unix(), expires.Unix())
	assert.NoError(t, auth.Validate(token))

	assert.ErrorIs(t, auth.Validate("not-a-token"), ErrInvalidToken)

	other, err := NewAdminAuth("", "hunter2", "another-secret", time.Hour, clock)
	require.NoError(t, err)
	assert.ErrorIs(t, other.Validate(token), ErrInvalidToken, "signed with a different secret")

	clock.Advance(time.Hour + time.Second)
	assert.ErrorIs(t, auth.Validate(token), ErrInvalidToken, "expired")
}

func TestAdminAuthWithHash(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)

	auth, err := NewAdminAuth(hash, "", "jwt-secret", 0, nil)
	require.NoError(t, err)
	_, _, err = auth.Login("s3cret")
	assert.NoError(t, err)

	_, err = NewAdminAuth("plaintext-not-a-hash", "", "jwt-secret", 0, nil)
	assert.Error(t, err)
}

func TestAdminAuthDisabled(t *testing.T) {
	auth, err := NewAdminAuth("", "", "", 0, nil)
	require.NoError(t, err)
	assert.False(t, auth.Enabled())
	_, _, err = auth.Login("anything")
	assert.ErrorIs(t, err, ErrAdminDisabled)

	_, err = NewAdminAuth("", "hunter2", "", 0, nil)
	assert.Error(t, err, "a password without a signing secret is refused")
}
