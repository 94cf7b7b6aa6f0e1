// internal/membership/autorenew/evaluator.go
package autorenew

import (
	"context"
	"fmt"
	"math/big"

	"member-portal/internal/chain"
	serrors "member-portal/internal/common/errors"
	"member-portal/internal/common/logger"
	"member-portal/internal/models"
)

// MonthsKind tags a MonthsRemaining figure. An undefined price must never
// collapse to zero months: "unavailable" and "off" are different answers.
type MonthsKind int

const (
	// MonthsNotApplicable means the tier is not renewable at all.
	MonthsNotApplicable MonthsKind = iota
	// MonthsOff means the allowance covers no renewals.
	MonthsOff
	// MonthsUnavailable means the price could not be resolved, so the
	// figure is undefined rather than zero.
	MonthsUnavailable
	// MonthsFinite carries a concrete month count.
	MonthsFinite
	// MonthsUnlimited means the approval is effectively infinite; Months
	// holds the configured display maximum.
	MonthsUnlimited
)

type MonthsRemaining struct {
	Kind   MonthsKind
	Months int
}

// ChangeOutcome distinguishes "nothing to do" from "transaction sent" from
// "real fault" without leaning on errors for expected business outcomes.
type ChangeOutcome string

const (
	AlreadySatisfied ChangeOutcome = "already-satisfied"
	Changed          ChangeOutcome = "changed"
	Failed           ChangeOutcome = "failed"
)

type ChangeResult struct {
	Outcome ChangeOutcome
	TxHash  string
}

// WalletSigner submits an ERC-20 approve from the user's own wallet and
// waits for inclusion. Auto-renew approvals are never sponsor-signed.
type WalletSigner interface {
	Approve(ctx context.Context, token, spender string, amount *big.Int) (txHash string, err error)
}

// Evaluator derives auto-renew months from allowance and price, and drives
// the enable/disable approval transactions.
type Evaluator struct {
	reader            chain.Reader
	maxMonths         int
	approvalCapMonths int
	logger            logger.Logger
}

func NewEvaluator(reader chain.Reader, maxMonths, approvalCapMonths int, log logger.Logger) *Evaluator {
	if maxMonths <= 0 {
		maxMonths = 12
	}
	if approvalCapMonths <= 0 {
		approvalCapMonths = 24
	}
	return &Evaluator{
		reader:            reader,
		maxMonths:         maxMonths,
		approvalCapMonths: approvalCapMonths,
		logger:            log.WithFields(map[string]interface{}{"component": "autorenew"}),
	}
}

// MonthsFor translates an allowance snapshot into a months figure:
// floor(amount / price), clamped at the display maximum.
func (e *Evaluator) MonthsFor(tier models.Tier, state *models.AllowanceState) MonthsRemaining {
	if !tier.Renewable {
		return MonthsRemaining{Kind: MonthsNotApplicable}
	}
	if state == nil {
		return MonthsRemaining{Kind: MonthsOff}
	}
	if state.IsUnlimited {
		return MonthsRemaining{Kind: MonthsUnlimited, Months: e.maxMonths}
	}

	price, ok := new(big.Int).SetString(state.KeyPrice, 10)
	if !ok || price.Sign() <= 0 {
		return MonthsRemaining{Kind: MonthsUnavailable}
	}
	amount, ok := new(big.Int).SetString(state.Amount, 10)
	if !ok || amount.Sign() <= 0 {
		return MonthsRemaining{Kind: MonthsOff}
	}

	months := new(big.Int).Div(amount, price)
	if !months.IsInt64() || months.Int64() > int64(e.maxMonths) {
		return MonthsRemaining{Kind: MonthsFinite, Months: e.maxMonths}
	}
	if months.Sign() == 0 {
		return MonthsRemaining{Kind: MonthsOff}
	}
	return MonthsRemaining{Kind: MonthsFinite, Months: int(months.Int64())}
}

// Enable raises the allowance to targetMonths renewals. Idempotent: a
// current allowance at or above the target submits nothing.
func (e *Evaluator) Enable(ctx context.Context, tier models.Tier, owner string, targetMonths int, signer WalletSigner) (ChangeResult, error) {
	if !tier.Renewable {
		return ChangeResult{Outcome: Failed}, serrors.NewBadRequestError(fmt.Sprintf("tier %s is not renewable", tier.ID))
	}
	if targetMonths <= 0 || targetMonths > e.approvalCapMonths {
		return ChangeResult{Outcome: Failed}, serrors.NewBadRequestError(fmt.Sprintf("target months must be between 1 and %d", e.approvalCapMonths))
	}

	price, err := e.reader.KeyPrice(ctx, tier.Address)
	if err != nil {
		return ChangeResult{Outcome: Failed}, err
	}
	if price.Sign() <= 0 {
		// A zero price means misconfiguration upstream; approving against
		// it would grant months for free.
		return ChangeResult{Outcome: Failed}, serrors.NewTierPriceUnavailableError(tier.ID)
	}

	target := new(big.Int).Mul(price, big.NewInt(int64(targetMonths)))
	cap := new(big.Int).Mul(price, big.NewInt(int64(e.approvalCapMonths)))
	if target.Cmp(cap) > 0 {
		return ChangeResult{Outcome: Failed}, serrors.NewBadRequestError("requested allowance exceeds the approval safety cap")
	}

	token, err := e.reader.TokenAddress(ctx, tier.Address)
	if err != nil {
		return ChangeResult{Outcome: Failed}, err
	}

	current, err := e.reader.Erc20Allowance(ctx, token, owner, tier.Address)
	if err != nil {
		return ChangeResult{Outcome: Failed}, err
	}
	if current.Cmp(target) >= 0 {
		return ChangeResult{Outcome: AlreadySatisfied}, nil
	}

	txHash, err := signer.Approve(ctx, token, tier.Address, target)
	if err != nil {
		return ChangeResult{Outcome: Failed}, err
	}

	e.logger.Info("auto-renew allowance raised", map[string]interface{}{
		"tier":   tier.ID,
		"owner":  owner,
		"months": targetMonths,
		"txHash": txHash,
	})
	return ChangeResult{Outcome: Changed, TxHash: txHash}, nil
}

// Disable zeroes the allowance. AlreadySatisfied when it is already zero.
func (e *Evaluator) Disable(ctx context.Context, tier models.Tier, owner string, signer WalletSigner) (ChangeResult, error) {
	token, err := e.reader.TokenAddress(ctx, tier.Address)
	if err != nil {
		return ChangeResult{Outcome: Failed}, err
	}

	current, err := e.reader.Erc20Allowance(ctx, token, owner, tier.Address)
	if err != nil {
		return ChangeResult{Outcome: Failed}, err
	}
	if current.Sign() == 0 {
		return ChangeResult{Outcome: AlreadySatisfied}, nil
	}

	txHash, err := signer.Approve(ctx, token, tier.Address, big.NewInt(0))
	if err != nil {
		return ChangeResult{Outcome: Failed}, err
	}

	e.logger.Info("auto-renew disabled", map[string]interface{}{
		"tier":   tier.ID,
		"owner":  owner,
		"txHash": txHash,
	})
	return ChangeResult{Outcome: Changed, TxHash: txHash}, nil
}
