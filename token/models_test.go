package token_test

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/entitle/token"
)

var urlSafe = regexp.MustCompile(`^[0-9a-f]{32}$`)

func TestNewSecret(t *testing.T) {
	seen := make(map[string]bool)
	for range 1000 {
		s := token.NewSecret()
		require.Regexp(t, urlSafe, s)
		require.False(t, seen[s], "duplicate secret %s", s)
		seen[s] = true
	}
}

func TestHashIsStable(t *testing.T) {
	s := token.NewSecret()
	assert.Equal(t, token.Hash(s), token.Hash(s))
	assert.NotEqual(t, s, token.Hash(s))
	assert.Len(t, token.Hash(s), 64)
}

func TestValidity(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		tok   token.Token
		valid bool
	}{
		{"fresh", token.Token{ExpiresAt: now.Add(time.Minute)}, true},
		{"used", token.Token{ExpiresAt: now.Add(time.Minute), IsUsed: true}, false},
		{"at expiry", token.Token{ExpiresAt: now}, false},
		{"past expiry", token.Token{ExpiresAt: now.Add(-time.Minute)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.tok.Valid(now))
		})
	}
}

func TestPurposeValid(t *testing.T) {
	assert.True(t, token.PurposeEmailChange.Valid())
	assert.False(t, token.Purpose("password_reset").Valid())
}
