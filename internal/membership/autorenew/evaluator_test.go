// internal/membership/autorenew/evaluator_test.go
package autorenew

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "member-portal/internal/common/errors"
	"member-portal/internal/common/logger"
	"member-portal/internal/models"
)

const (
	testLock  = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	testToken = "0xcccccccccccccccccccccccccccccccccccccccc"
	testOwner = "0x1111111111111111111111111111111111111111"
)

// stubReader covers just the evaluator's read surface.
type stubReader struct {
	readerStub
	price     *big.Int
	priceErr  error
	allowance *big.Int
}

func (s *stubReader) KeyPrice(_ context.Context, _ string) (*big.Int, error) {
	return s.price, s.priceErr
}

func (s *stubReader) TokenAddress(_ context.Context, _ string) (string, error) {
	return testToken, nil
}

func (s *stubReader) Erc20Allowance(_ context.Context, _, _, _ string) (*big.Int, error) {
	return s.allowance, nil
}

// readerStub fails every method the evaluator must not touch.
type readerStub struct{}

func (readerStub) HasValidKey(context.Context, string, string) (bool, error) {
	return false, errors.New("unexpected call")
}
func (readerStub) KeyExpirationFor(context.Context, string, string) (int64, error) {
	return 0, errors.New("unexpected call")
}
func (readerStub) TokenOfOwner(context.Context, string, string) (string, error) {
	return "", errors.New("unexpected call")
}
func (readerStub) IsValidKeyToken(context.Context, string, string) (bool, error) {
	return false, errors.New("unexpected call")
}
func (readerStub) OwnerOfToken(context.Context, string, string) (string, error) {
	return "", errors.New("unexpected call")
}
func (readerStub) LockName(context.Context, string) (string, error) {
	return "", errors.New("unexpected call")
}
func (readerStub) IsLockManager(context.Context, string, string) (bool, error) {
	return false, errors.New("unexpected call")
}
func (readerStub) BalanceAt(context.Context, string) (*big.Int, error) {
	return nil, errors.New("unexpected call")
}

type recordingSigner struct {
	mu      sync.Mutex
	calls   int
	amounts []*big.Int
	err     error
}

func (s *recordingSigner) Approve(_ context.Context, _, _ string, amount *big.Int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.calls++
	s.amounts = append(s.amounts, new(big.Int).Set(amount))
	return "0xdeadbeef", nil
}

func renewableTier() models.Tier {
	return models.Tier{ID: "gold", Address: testLock, Renewable: true}
}

func newEvaluator(t *testing.T, reader *stubReader) *Evaluator {
	return NewEvaluator(reader, 12, 24, logger.NewTestLogger(t))
}

// ==========================
// MONTHS DERIVATION
// ==========================

func TestMonthsFor_FloorsAmountOverPrice(t *testing.T) {
	e := newEvaluator(t, &stubReader{})

	tests := []struct {
		name     string
		amount   string
		price    string
		expected MonthsRemaining
	}{
		{name: "exact multiple", amount: "1000000", price: "100000", expected: MonthsRemaining{Kind: MonthsFinite, Months: 10}},
		{name: "rounds down", amount: "1099999", price: "100000", expected: MonthsRemaining{Kind: MonthsFinite, Months: 10}},
		{name: "below one month is off", amount: "99999", price: "100000", expected: MonthsRemaining{Kind: MonthsOff}},
		{name: "zero allowance is off", amount: "0", price: "100000", expected: MonthsRemaining{Kind: MonthsOff}},
		{name: "clamped at display max", amount: "10000000", price: "100000", expected: MonthsRemaining{Kind: MonthsFinite, Months: 12}},
		{name: "zero price is unavailable, not zero months", amount: "1000000", price: "0", expected: MonthsRemaining{Kind: MonthsUnavailable}},
		{name: "negative price is unavailable", amount: "1000000", price: "-1", expected: MonthsRemaining{Kind: MonthsUnavailable}},
		{name: "garbage price is unavailable", amount: "1000000", price: "not-a-number", expected: MonthsRemaining{Kind: MonthsUnavailable}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.MonthsFor(renewableTier(), &models.AllowanceState{Amount: tt.amount, KeyPrice: tt.price})
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestMonthsFor_MonotonicInAmount(t *testing.T) {
	e := newEvaluator(t, &stubReader{})
	price := big.NewInt(100000)

	last := -1
	for raw := int64(0); raw <= 1_300_000; raw += 50_000 {
		got := e.MonthsFor(renewableTier(), &models.AllowanceState{
			Amount:   big.NewInt(raw).String(),
			KeyPrice: price.String(),
		})
		months := 0
		if got.Kind == MonthsFinite {
			months = got.Months
		}
		require.GreaterOrEqual(t, months, last, "months must be non-decreasing in amount")
		if got.Kind == MonthsFinite && months < 12 {
			assert.Equal(t, int(raw/100000), months)
		}
		last = months
	}
}

func TestMonthsFor_TaggedEdges(t *testing.T) {
	e := newEvaluator(t, &stubReader{})

	assert.Equal(t, MonthsNotApplicable, e.MonthsFor(models.Tier{ID: "event"}, nil).Kind)
	assert.Equal(t, MonthsOff, e.MonthsFor(renewableTier(), nil).Kind)

	unlimited := e.MonthsFor(renewableTier(), &models.AllowanceState{IsUnlimited: true})
	assert.Equal(t, MonthsUnlimited, unlimited.Kind)
	assert.Equal(t, 12, unlimited.Months)
}

// ==========================
// ENABLE / DISABLE
// ==========================

func TestEnable_SubmitsApprovalForTarget(t *testing.T) {
	reader := &stubReader{price: big.NewInt(100000), allowance: big.NewInt(0)}
	signer := &recordingSigner{}
	e := newEvaluator(t, reader)

	res, err := e.Enable(context.Background(), renewableTier(), testOwner, 12, signer)
	require.NoError(t, err)

	assert.Equal(t, Changed, res.Outcome)
	assert.Equal(t, "0xdeadbeef", res.TxHash)
	require.Len(t, signer.amounts, 1)
	assert.Equal(t, "1200000", signer.amounts[0].String())
}

func TestEnable_IdempotentWhenTargetAlreadyReached(t *testing.T) {
	reader := &stubReader{price: big.NewInt(100000), allowance: big.NewInt(0)}
	signer := &recordingSigner{}
	e := newEvaluator(t, reader)

	res, err := e.Enable(context.Background(), renewableTier(), testOwner, 12, signer)
	require.NoError(t, err)
	require.Equal(t, Changed, res.Outcome)

	// The first approval landed; the evaluator now reads it back.
	reader.allowance = big.NewInt(1_200_000)

	res, err = e.Enable(context.Background(), renewableTier(), testOwner, 12, signer)
	require.NoError(t, err)
	assert.Equal(t, AlreadySatisfied, res.Outcome)
	assert.Equal(t, 1, signer.calls, "second call must not submit a transaction")
}

func TestEnable_ZeroPriceIsDomainError(t *testing.T) {
	reader := &stubReader{price: big.NewInt(0), allowance: big.NewInt(0)}
	signer := &recordingSigner{}
	e := newEvaluator(t, reader)

	res, err := e.Enable(context.Background(), renewableTier(), testOwner, 12, signer)
	require.Error(t, err)

	std := serrors.AsStandard(err)
	require.NotNil(t, std)
	assert.Equal(t, serrors.ErrCodeTierPriceUnavailable, std.Code)
	assert.Equal(t, Failed, res.Outcome)
	assert.Zero(t, signer.calls, "no transaction on zero price")
}

func TestEnable_RejectsTargetsOverSafetyCap(t *testing.T) {
	reader := &stubReader{price: big.NewInt(100000), allowance: big.NewInt(0)}
	signer := &recordingSigner{}
	e := newEvaluator(t, reader)

	_, err := e.Enable(context.Background(), renewableTier(), testOwner, 25, signer)
	require.Error(t, err)
	assert.Zero(t, signer.calls)
}

func TestEnable_NonRenewableTierRejected(t *testing.T) {
	e := newEvaluator(t, &stubReader{price: big.NewInt(100000), allowance: big.NewInt(0)})

	_, err := e.Enable(context.Background(), models.Tier{ID: "event", Address: testLock}, testOwner, 12, &recordingSigner{})
	require.Error(t, err)
}

func TestDisable_ZeroesAllowance(t *testing.T) {
	reader := &stubReader{allowance: big.NewInt(500000)}
	signer := &recordingSigner{}
	e := newEvaluator(t, reader)

	res, err := e.Disable(context.Background(), renewableTier(), testOwner, signer)
	require.NoError(t, err)

	assert.Equal(t, Changed, res.Outcome)
	require.Len(t, signer.amounts, 1)
	assert.Zero(t, signer.amounts[0].Sign())
}

func TestDisable_AlreadyZeroIsIdempotent(t *testing.T) {
	reader := &stubReader{allowance: big.NewInt(0)}
	signer := &recordingSigner{}
	e := newEvaluator(t, reader)

	res, err := e.Disable(context.Background(), renewableTier(), testOwner, signer)
	require.NoError(t, err)

	assert.Equal(t, AlreadySatisfied, res.Outcome)
	assert.Zero(t, signer.calls)
}
