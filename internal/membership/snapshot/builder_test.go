// internal/membership/snapshot/builder_test.go
package snapshot

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"member-portal/internal/chain"
	"member-portal/internal/common/logger"
	"member-portal/internal/models"
	"member-portal/internal/tiers"
)

// ==========================
// TEST FIXTURES
// ==========================

const (
	lockGold   = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	lockSilver = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	erc20Addr  = "0xcccccccccccccccccccccccccccccccccccccccc"
	walletOne  = "0x1111111111111111111111111111111111111111"
	walletTwo  = "0x2222222222222222222222222222222222222222"
)

type keyState struct {
	valid   bool
	expiry  int64
	tokenID string
	err     error
}

// fakeReader keys chain state by (lock, owner).
type fakeReader struct {
	keys       map[string]map[string]keyState
	prices     map[string]*big.Int
	priceErr   map[string]error
	allowances map[string]*big.Int
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		keys:       make(map[string]map[string]keyState),
		prices:     make(map[string]*big.Int),
		priceErr:   make(map[string]error),
		allowances: make(map[string]*big.Int),
	}
}

func (f *fakeReader) set(lock, owner string, st keyState) {
	if f.keys[lock] == nil {
		f.keys[lock] = make(map[string]keyState)
	}
	f.keys[lock][owner] = st
}

func (f *fakeReader) state(lock, owner string) (keyState, error) {
	st, ok := f.keys[lock][owner]
	if !ok {
		return keyState{}, nil
	}
	return st, st.err
}

func (f *fakeReader) HasValidKey(_ context.Context, lock, owner string) (bool, error) {
	st, err := f.state(lock, owner)
	return st.valid, err
}

func (f *fakeReader) KeyExpirationFor(_ context.Context, lock, owner string) (int64, error) {
	st, err := f.state(lock, owner)
	return st.expiry, err
}

func (f *fakeReader) TokenOfOwner(_ context.Context, lock, owner string) (string, error) {
	st, err := f.state(lock, owner)
	if err != nil {
		return "", err
	}
	if st.tokenID == "" {
		return "", chain.ErrNoKey
	}
	return st.tokenID, nil
}

func (f *fakeReader) IsValidKeyToken(_ context.Context, _, _ string) (bool, error) {
	return false, errors.New("not implemented")
}

func (f *fakeReader) OwnerOfToken(_ context.Context, _, _ string) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeReader) KeyPrice(_ context.Context, lock string) (*big.Int, error) {
	if err := f.priceErr[lock]; err != nil {
		return nil, err
	}
	if p, ok := f.prices[lock]; ok {
		return p, nil
	}
	return big.NewInt(0), nil
}

func (f *fakeReader) TokenAddress(_ context.Context, _ string) (string, error) {
	return erc20Addr, nil
}

func (f *fakeReader) LockName(_ context.Context, _ string) (string, error) {
	return "Test Lock", nil
}

func (f *fakeReader) Erc20Allowance(_ context.Context, _, owner, _ string) (*big.Int, error) {
	if a, ok := f.allowances[owner]; ok {
		return a, nil
	}
	return big.NewInt(0), nil
}

func (f *fakeReader) IsLockManager(_ context.Context, _, _ string) (bool, error) {
	return false, nil
}

func (f *fakeReader) BalanceAt(_ context.Context, _ string) (*big.Int, error) {
	return big.NewInt(0), nil
}

func testRegistry() *tiers.Registry {
	return tiers.NewRegistry([]models.Tier{
		{ID: "gold", Address: lockGold, Label: "Gold", Renewable: true},
		{ID: "silver", Address: lockSilver, Label: "Silver"},
	}, nil)
}

func newTestBuilder(t *testing.T, reader chain.Reader) *Builder {
	b := NewBuilder(reader, nil, testRegistry(), 8453, logger.NewTestLogger(t))
	b.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return b
}

// ==========================
// BUILD TESTS
// ==========================

func TestBuild_ActiveMembership(t *testing.T) {
	reader := newFakeReader()
	reader.set(lockGold, walletOne, keyState{valid: true, expiry: 1_700_100_000, tokenID: "42"})
	reader.prices[lockGold] = big.NewInt(5_000_000)
	reader.allowances[walletOne] = big.NewInt(60_000_000)

	b := newTestBuilder(t, reader)
	snap, err := b.Build(context.Background(), []string{walletOne})
	require.NoError(t, err)

	assert.Equal(t, models.StatusActive, snap.Summary.Status)
	require.NotNil(t, snap.Summary.Expiry)
	assert.Equal(t, int64(1_700_100_000), *snap.Summary.Expiry)
	require.NotNil(t, snap.Summary.HighestActiveTier)
	assert.Equal(t, "gold", snap.Summary.HighestActiveTier.ID)
	assert.Equal(t, []string{"42"}, snap.TokenIDs[lockGold])

	allowance, ok := snap.Allowances[lockGold]
	require.True(t, ok)
	assert.Equal(t, "60000000", allowance.Amount)
	assert.Equal(t, "5000000", allowance.KeyPrice)
	assert.False(t, allowance.IsUnlimited)
	assert.Equal(t, walletOne, allowance.Owner)
}

func TestBuild_WinnerPrefersNonExpiredKey(t *testing.T) {
	reader := newFakeReader()
	// walletOne holds an expired key with the later expiry; walletTwo's key
	// is still valid and must win despite expiring sooner.
	reader.set(lockSilver, walletOne, keyState{valid: false, expiry: 1_699_999_999, tokenID: "7"})
	reader.set(lockSilver, walletTwo, keyState{valid: true, expiry: 1_700_050_000, tokenID: "8"})

	b := newTestBuilder(t, reader)
	snap, err := b.Build(context.Background(), []string{walletOne, walletTwo})
	require.NoError(t, err)

	tier := snap.Summary.TierByAddress(lockSilver)
	require.NotNil(t, tier)
	assert.Equal(t, models.StatusActive, tier.Status)
	assert.Equal(t, walletTwo, tier.OwnedBy)
	assert.Equal(t, []string{"8"}, tier.TokenIDs)
}

func TestBuild_AllKeysExpiredPicksLatest(t *testing.T) {
	reader := newFakeReader()
	reader.set(lockSilver, walletOne, keyState{valid: false, expiry: 1_600_000_000, tokenID: "1"})
	reader.set(lockSilver, walletTwo, keyState{valid: false, expiry: 1_650_000_000, tokenID: "2"})

	b := newTestBuilder(t, reader)
	snap, err := b.Build(context.Background(), []string{walletOne, walletTwo})
	require.NoError(t, err)

	tier := snap.Summary.TierByAddress(lockSilver)
	require.NotNil(t, tier)
	assert.Equal(t, models.StatusExpired, tier.Status)
	assert.Equal(t, walletTwo, tier.OwnedBy)
	require.NotNil(t, tier.Expiry)
	assert.Equal(t, int64(1_650_000_000), *tier.Expiry)
}

func TestBuild_TieBreaksOnInputOrder(t *testing.T) {
	reader := newFakeReader()
	reader.set(lockSilver, walletOne, keyState{valid: true, expiry: 1_700_050_000, tokenID: "1"})
	reader.set(lockSilver, walletTwo, keyState{valid: true, expiry: 1_700_050_000, tokenID: "2"})

	b := newTestBuilder(t, reader)
	snap, err := b.Build(context.Background(), []string{walletTwo, walletOne})
	require.NoError(t, err)

	tier := snap.Summary.TierByAddress(lockSilver)
	require.NotNil(t, tier)
	assert.Equal(t, walletTwo, tier.OwnedBy, "earlier input address wins the tie")
}

func TestBuild_TierFailureIsolated(t *testing.T) {
	reader := newFakeReader()
	reader.set(lockGold, walletOne, keyState{err: errors.New("execution reverted")})
	reader.set(lockSilver, walletOne, keyState{valid: true, expiry: 1_700_050_000, tokenID: "3"})

	b := newTestBuilder(t, reader)
	snap, err := b.Build(context.Background(), []string{walletOne})
	require.NoError(t, err)

	gold := snap.Summary.TierByAddress(lockGold)
	require.NotNil(t, gold)
	assert.Equal(t, models.StatusUnknown, gold.Status)

	// The failed tier does not drag the aggregate down.
	assert.Equal(t, models.StatusActive, snap.Summary.Status)
}

func TestBuild_AllTiersFailingIsChainUnavailable(t *testing.T) {
	reader := newFakeReader()
	reader.set(lockGold, walletOne, keyState{err: errors.New("connection refused")})
	reader.set(lockSilver, walletOne, keyState{err: errors.New("connection refused")})

	b := newTestBuilder(t, reader)
	_, err := b.Build(context.Background(), []string{walletOne})
	require.Error(t, err)
	assert.ErrorIs(t, err, chain.ErrChainUnavailable)
}

func TestBuild_NoKeysAnywhere(t *testing.T) {
	b := newTestBuilder(t, newFakeReader())
	snap, err := b.Build(context.Background(), []string{walletOne})
	require.NoError(t, err)

	assert.Equal(t, models.StatusNone, snap.Summary.Status)
	assert.Nil(t, snap.Summary.Expiry)
	assert.Nil(t, snap.Summary.HighestActiveTier)
	assert.Empty(t, snap.Allowances)
}

func TestBuild_NeverExpiringTierClearsExpiry(t *testing.T) {
	reader := newFakeReader()
	reader.set(lockGold, walletOne, keyState{valid: true, expiry: chain.NeverExpires, tokenID: "9"})

	registry := tiers.NewRegistry([]models.Tier{
		{ID: "lifetime", Address: lockGold, Label: "Lifetime", NeverExpires: true},
	}, nil)
	b := NewBuilder(reader, nil, registry, 8453, logger.NewTestLogger(t))
	b.now = func() time.Time { return time.Unix(1_700_000_000, 0) }

	snap, err := b.Build(context.Background(), []string{walletOne})
	require.NoError(t, err)

	assert.Equal(t, models.StatusActive, snap.Summary.Status)
	assert.Nil(t, snap.Summary.Expiry)
}

func TestBuild_Deterministic(t *testing.T) {
	reader := newFakeReader()
	reader.set(lockGold, walletOne, keyState{valid: true, expiry: 1_700_100_000, tokenID: "42"})
	reader.set(lockSilver, walletTwo, keyState{valid: false, expiry: 1_650_000_000, tokenID: "5"})
	reader.prices[lockGold] = big.NewInt(5_000_000)
	reader.allowances[walletOne] = big.NewInt(10_000_000)

	b := newTestBuilder(t, reader)
	first, err := b.Build(context.Background(), []string{walletOne, walletTwo})
	require.NoError(t, err)
	second, err := b.Build(context.Background(), []string{walletOne, walletTwo})
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestNormalizeAddresses(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{
			name:     "lower-cases and dedupes",
			input:    []string{"0xABC", "0xabc", " 0xDef "},
			expected: []string{"0xabc", "0xdef"},
		},
		{
			name:     "preserves input order",
			input:    []string{walletTwo, walletOne},
			expected: []string{walletTwo, walletOne},
		},
		{
			name:     "drops empties",
			input:    []string{"", "  ", walletOne},
			expected: []string{walletOne},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeAddresses(tt.input))
		})
	}
}
