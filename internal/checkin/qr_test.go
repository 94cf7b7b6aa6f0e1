// internal/checkin/qr_test.go
package checkin

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	qrLock  = "0xEeeEEEeEEEEeeEEEEeeeEEEEeeEEeeEEeeEeeEee"
	qrOwner = "0x1111111111111111111111111111111111111111"
)

func newTestIssuer() *TokenIssuer {
	i := NewTokenIssuer("test-secret", 10*time.Minute, 256)
	i.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return i
}

func TestToken_RoundTrip(t *testing.T) {
	issuer := newTestIssuer()

	token, err := issuer.Generate(qrLock, "42", qrOwner)
	require.NoError(t, err)

	claims, err := issuer.Verify(token)
	require.NoError(t, err)

	assert.Equal(t, "0xeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee", claims.LockAddress)
	assert.Equal(t, "42", claims.TokenID)
	assert.Equal(t, qrOwner, claims.OwnerAddress)
	assert.Equal(t, int64(1_700_000_000), claims.IssuedAt)
}

func TestToken_ExpiredPastMaxAge(t *testing.T) {
	issuer := newTestIssuer()
	token, err := issuer.Generate(qrLock, "42", qrOwner)
	require.NoError(t, err)

	issuer.now = func() time.Time { return time.Unix(1_700_000_000, 0).Add(11 * time.Minute) }

	_, err = issuer.Verify(token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestToken_ValidJustInsideWindow(t *testing.T) {
	issuer := newTestIssuer()
	token, err := issuer.Generate(qrLock, "42", qrOwner)
	require.NoError(t, err)

	issuer.now = func() time.Time { return time.Unix(1_700_000_000, 0).Add(9 * time.Minute) }

	_, err = issuer.Verify(token)
	assert.NoError(t, err)
}

func TestToken_AnySingleBitFlipFailsSignature(t *testing.T) {
	issuer := newTestIssuer()
	token, err := issuer.Generate(qrLock, "42", qrOwner)
	require.NoError(t, err)

	for i := 0; i < len(token); i++ {
		if token[i] == '.' {
			continue
		}
		mutated := []byte(token)
		mutated[i] ^= 0x01

		_, err := issuer.Verify(string(mutated))
		assert.ErrorIs(t, err, ErrBadSignature, "bit flip at byte %d must fail verification", i)
	}
}

func TestToken_WrongSecretRejected(t *testing.T) {
	issuer := newTestIssuer()
	token, err := issuer.Generate(qrLock, "42", qrOwner)
	require.NoError(t, err)

	other := NewTokenIssuer("different-secret", 10*time.Minute, 256)
	other.now = issuer.now

	_, err = other.Verify(token)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestToken_MalformedInputs(t *testing.T) {
	issuer := newTestIssuer()

	for _, token := range []string{"", "no-separator", "a.b.c", "!!!.???"} {
		_, err := issuer.Verify(token)
		assert.ErrorIs(t, err, ErrBadSignature, "token %q", token)
	}
}

func TestToken_FutureIssuanceRejected(t *testing.T) {
	issuer := newTestIssuer()
	token, err := issuer.Generate(qrLock, "42", qrOwner)
	require.NoError(t, err)

	// Verifier's clock is well behind the issuance timestamp.
	issuer.now = func() time.Time { return time.Unix(1_700_000_000, 0).Add(-5 * time.Minute) }

	_, err = issuer.Verify(token)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestQRCode_RendersPNG(t *testing.T) {
	issuer := newTestIssuer()
	token, err := issuer.Generate(qrLock, "42", qrOwner)
	require.NoError(t, err)

	png, err := issuer.QRCode(token)
	require.NoError(t, err)
	require.NotEmpty(t, png)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, png[:4])
}
