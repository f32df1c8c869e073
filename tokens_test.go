package entitle_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/entitle"
	"github.com/xraph/entitle/token"
)

func TestIssueAndRedeemToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tok, err := h.engine.IssueToken(ctx, entitle.TokenRequest{
		SubjectID: "user-1",
		Purpose:   token.PurposeEmailVerification,
	})
	require.NoError(t, err)
	assert.Len(t, tok.Secret, 32)
	assert.Equal(t, h.clock.Now().Add(24*time.Hour), tok.ExpiresAt)

	var seen *token.Token
	redeemed, err := h.engine.RedeemToken(ctx, tok.Secret, token.PurposeEmailVerification,
		func(_ context.Context, t *token.Token) error {
			seen = t
			return nil
		})
	require.NoError(t, err)
	assert.True(t, redeemed.IsUsed)
	require.NotNil(t, seen)
	assert.Equal(t, "user-1", seen.SubjectID)

	_, err = h.engine.RedeemToken(ctx, tok.Secret, token.PurposeEmailVerification, nil)
	assert.ErrorIs(t, err, entitle.ErrAlreadyUsed)
}

func TestRedeemTokenErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.RedeemToken(ctx, "nope", token.PurposeEmailVerification, nil)
	assert.ErrorIs(t, err, entitle.ErrTokenNotFound)

	tok, err := h.engine.IssueToken(ctx, entitle.TokenRequest{
		SubjectID: "user-1",
		Purpose:   token.PurposeEmailChange,
		NewEmail:  "new@example.com",
		TTL:       time.Hour,
	})
	require.NoError(t, err)

	_, err = h.engine.RedeemToken(ctx, tok.Secret, token.PurposeEmailVerification, nil)
	assert.ErrorIs(t, err, entitle.ErrTokenNotFound, "a token only redeems for its own purpose")

	h.clock.Advance(time.Hour)
	_, err = h.engine.RedeemToken(ctx, tok.Secret, token.PurposeEmailChange, nil)
	assert.ErrorIs(t, err, entitle.ErrExpired, "a token is expired exactly at expires_at")

	_, err = h.engine.IssueToken(ctx, entitle.TokenRequest{SubjectID: "user-1", Purpose: token.PurposeEmailChange})
	var verr entitle.ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.ErrorIs(t, err, entitle.ErrInvalidInput)
}

func TestRedeemTokenExactlyOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tok, err := h.engine.IssueToken(ctx, entitle.TokenRequest{
		SubjectID: "user-1",
		Purpose:   token.PurposeEmailVerification,
	})
	require.NoError(t, err)

	const racers = 32
	var (
		wins  atomic.Int64
		used  atomic.Int64
		posts atomic.Int64
	)
	var g errgroup.Group
	for range racers {
		g.Go(func() error {
			_, err := h.engine.RedeemToken(ctx, tok.Secret, token.PurposeEmailVerification,
				func(context.Context, *token.Token) error {
					posts.Add(1)
					return nil
				})
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, entitle.ErrAlreadyUsed):
				used.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int64(1), wins.Load())
	assert.Equal(t, int64(racers-1), used.Load())
	assert.Equal(t, int64(1), posts.Load(), "the post action runs once")
}

func TestReissueInvalidatesPriorTokens(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := entitle.TokenRequest{SubjectID: "user-1", Purpose: token.PurposeEmailVerification}

	first, err := h.engine.IssueToken(ctx, req)
	require.NoError(t, err)
	other, err := h.engine.IssueToken(ctx, entitle.TokenRequest{
		SubjectID: "user-1",
		Purpose:   token.PurposeEmailChange,
		NewEmail:  "x@example.com",
	})
	require.NoError(t, err)
	second, err := h.engine.IssueToken(ctx, req)
	require.NoError(t, err)

	_, err = h.engine.PeekToken(ctx, first.Secret, token.PurposeEmailVerification)
	assert.ErrorIs(t, err, entitle.ErrAlreadyUsed)

	_, err = h.engine.PeekToken(ctx, second.Secret, token.PurposeEmailVerification)
	assert.NoError(t, err)

	_, err = h.engine.PeekToken(ctx, other.Secret, token.PurposeEmailChange)
	assert.NoError(t, err, "other purposes are untouched")
}

func TestRedeemTokenPostActionFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tok, err := h.engine.IssueToken(ctx, entitle.TokenRequest{
		SubjectID: "user-1",
		Purpose:   token.PurposeEmailVerification,
	})
	require.NoError(t, err)

	boom := errors.New("mail server down")
	_, err = h.engine.RedeemToken(ctx, tok.Secret, token.PurposeEmailVerification,
		func(context.Context, *token.Token) error { return boom })
	require.ErrorIs(t, err, boom)

	peeked, err := h.engine.PeekToken(ctx, tok.Secret, token.PurposeEmailVerification)
	require.NoError(t, err, "a failed post action leaves the token redeemable")
	assert.False(t, peeked.IsUsed)

	redeemed, err := h.engine.RedeemToken(ctx, tok.Secret, token.PurposeEmailVerification,
		func(context.Context, *token.Token) error { return nil })
	require.NoError(t, err)
	assert.True(t, redeemed.IsUsed)

	_, err = h.engine.RedeemToken(ctx, tok.Secret, token.PurposeEmailVerification, nil)
	assert.ErrorIs(t, err, entitle.ErrAlreadyUsed)
}

func TestConcurrentIssueLeavesOneRedeemableToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := entitle.TokenRequest{SubjectID: "user-1", Purpose: token.PurposeEmailVerification}

	const issuers = 16
	secrets := make([]string, issuers)
	var g errgroup.Group
	for i := range issuers {
		g.Go(func() error {
			tok, err := h.engine.IssueToken(ctx, req)
			if err != nil {
				return err
			}
			secrets[i] = tok.Secret
			return nil
		})
	}
	require.NoError(t, g.Wait())

	valid := 0
	for _, secret := range secrets {
		if _, err := h.engine.PeekToken(ctx, secret, req.Purpose); err == nil {
			valid++
		} else {
			assert.ErrorIs(t, err, entitle.ErrAlreadyUsed)
		}
	}
	assert.Equal(t, 1, valid)
}

func TestTokenTTLFromSettings(t *testing.T) {
	settings := entitle.DefaultSettings()
	settings.TokenTTL = 2 * time.Hour
	h := newHarness(t, entitle.WithSettings(settings))

	tok, err := h.engine.IssueToken(context.Background(), entitle.TokenRequest{
		SubjectID: "user-1",
		Purpose:   token.PurposeEmailVerification,
	})
	require.NoError(t, err)
	assert.Equal(t, h.clock.Now().Add(2*time.Hour), tok.ExpiresAt)
}
