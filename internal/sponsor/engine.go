// internal/sponsor/engine.go
package sponsor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"member-portal/internal/chain"
	serrors "member-portal/internal/common/errors"
	"member-portal/internal/common/logger"
	"member-portal/internal/common/metrics"
	"member-portal/internal/models"
	"member-portal/internal/tiers"
)

// AlertNotifier publishes operator alerts (SNS in production).
type AlertNotifier interface {
	PublishAlert(ctx context.Context, topicARN, subject, message string) error
}

// Request is one sponsored action on behalf of a signed-in user.
type Request struct {
	Session     *models.Session
	LockAddress string
	Recipient   string
	TokenID     string
	IP          string
	UserAgent   string
}

// Engine submits transactions from the funded sponsor wallet. Per sponsor
// the state machine is validating → leased → broadcasting →
// confirmed|failed|already-done; the nonce lease keeps at most one
// transaction in flight per (chainId, sponsorAddress).
type Engine struct {
	reader         chain.Reader
	backend        chain.TxBackend
	wallet         *chain.Wallet
	leases         *LeaseStore
	limiter        *RateLimiter
	audit          *AuditLog
	registry       *tiers.Registry
	notifier       AlertNotifier
	alertTopicARN  string
	minBalance     *big.Int
	gasLimit       uint64
	confirmTimeout time.Duration
	chainID        int64
	logger         logger.Logger
	now            func() time.Time
}

type EngineParams struct {
	Reader         chain.Reader
	Backend        chain.TxBackend
	Wallet         *chain.Wallet
	Leases         *LeaseStore
	Limiter        *RateLimiter
	Audit          *AuditLog
	Registry       *tiers.Registry
	Notifier       AlertNotifier
	AlertTopicARN  string
	MinBalanceWei  string
	GasLimit       uint64
	ConfirmTimeout time.Duration
	ChainID        int64
	Logger         logger.Logger
}

func NewEngine(p EngineParams) *Engine {
	minBalance := new(big.Int)
	if p.MinBalanceWei != "" {
		minBalance.SetString(p.MinBalanceWei, 10)
	}
	gasLimit := p.GasLimit
	if gasLimit == 0 {
		gasLimit = 500_000
	}
	return &Engine{
		reader:         p.Reader,
		backend:        p.Backend,
		wallet:         p.Wallet,
		leases:         p.Leases,
		limiter:        p.Limiter,
		audit:          p.Audit,
		registry:       p.Registry,
		notifier:       p.Notifier,
		alertTopicARN:  p.AlertTopicARN,
		minBalance:     minBalance,
		gasLimit:       gasLimit,
		confirmTimeout: p.ConfirmTimeout,
		chainID:        p.ChainID,
		logger:         p.Logger.WithFields(map[string]interface{}{"component": "sponsor-engine"}),
		now:            time.Now,
	}
}

// ==========================
// SPONSORED ACTIONS
// ==========================

// RSVP grants a free event key to the recipient. The event must actually
// be free; priced events go through wallet-paid checkout instead.
func (e *Engine) RSVP(ctx context.Context, req Request) (*models.SponsoredResult, error) {
	if err := e.validate(req, models.LockKindEvent); err != nil {
		return e.fail(ctx, "rsvp", req, err)
	}

	price, err := e.reader.KeyPrice(ctx, req.LockAddress)
	if err != nil {
		return e.fail(ctx, "rsvp", req, serrors.NewChainUnavailableError(err))
	}
	if price.Sign() != 0 {
		return e.fail(ctx, "rsvp", req, serrors.NewEventNotFreeError(req.LockAddress))
	}

	return e.grant(ctx, "rsvp", req, nil)
}

// CancelRSVP expires the recipient's event key with zero refund.
func (e *Engine) CancelRSVP(ctx context.Context, req Request) (*models.SponsoredResult, error) {
	if err := e.validate(req, models.LockKindEvent); err != nil {
		return e.fail(ctx, "cancel-rsvp", req, err)
	}
	return e.cancel(ctx, "cancel-rsvp", req)
}

// ClaimMember grants the gas-sponsored member tier. A missing lock address
// defaults to the configured free tier.
func (e *Engine) ClaimMember(ctx context.Context, req Request) (*models.SponsoredResult, error) {
	free := e.registry.FreeTier()
	if free == nil {
		return e.fail(ctx, "claim-member", req, serrors.NewSponsorNotConfiguredError("gas-sponsored tier"))
	}
	if req.LockAddress == "" {
		req.LockAddress = free.Address
	}
	if err := e.validate(req, models.LockKindMembershipTier); err != nil {
		return e.fail(ctx, "claim-member", req, err)
	}
	tier := e.registry.TierFor(req.LockAddress)
	if tier == nil || !tier.GasSponsored {
		return e.fail(ctx, "claim-member", req, serrors.NewEventLockNotAllowedError(req.LockAddress))
	}
	return e.grant(ctx, "claim-member", req, tier)
}

// CancelMember expires the recipient's gas-sponsored member key.
func (e *Engine) CancelMember(ctx context.Context, req Request) (*models.SponsoredResult, error) {
	if err := e.validate(req, models.LockKindMembershipTier); err != nil {
		return e.fail(ctx, "cancel-member", req, err)
	}
	tier := e.registry.TierFor(req.LockAddress)
	if tier == nil || !tier.GasSponsored {
		return e.fail(ctx, "cancel-member", req, serrors.NewEventLockNotAllowedError(req.LockAddress))
	}
	return e.cancel(ctx, "cancel-member", req)
}

// ==========================
// VALIDATION
// ==========================

// validate covers the "validating" stage. Validation failures consume no
// lease and no rate-limit slot.
func (e *Engine) validate(req Request, want models.LockKind) error {
	if e.wallet == nil {
		return serrors.NewSponsorNotConfiguredError("sponsor private key")
	}
	if req.Session == nil {
		return serrors.NewUnauthorizedError("no session")
	}
	if !req.Session.EmailVerified {
		return serrors.NewEmailNotVerifiedError()
	}
	if len(req.Session.Wallets) == 0 {
		return serrors.NewNoWalletError()
	}
	if req.Recipient == "" || !ethcommon.IsHexAddress(req.Recipient) {
		return serrors.NewInvalidAddressError(req.Recipient)
	}
	if !req.Session.HasWallet(req.Recipient) {
		return serrors.NewRecipientNotLinkedError(req.Recipient)
	}
	if e.registry.Classify(req.LockAddress) != want {
		return serrors.NewEventLockNotAllowedError(req.LockAddress)
	}
	return nil
}

// ==========================
// GRANT / CANCEL
// ==========================

func (e *Engine) grant(ctx context.Context, action string, req Request, tier *models.Tier) (*models.SponsoredResult, error) {
	// Idempotent short-circuit before any lease or rate-limit slot is
	// consumed: an already-valid key is an already-done outcome.
	valid, err := e.reader.HasValidKey(ctx, req.LockAddress, req.Recipient)
	if err != nil {
		return e.fail(ctx, action, req, serrors.NewChainUnavailableError(err))
	}
	if valid {
		return e.alreadyDone(ctx, action, req, "recipient already holds a valid key")
	}

	expiration := big.NewInt(e.now().Add(30 * 24 * time.Hour).Unix())
	if tier != nil && tier.NeverExpires {
		expiration = big.NewInt(chain.NeverExpires)
	}

	calldata, err := chain.LockABI().Pack("grantKeys",
		[]ethcommon.Address{ethcommon.HexToAddress(req.Recipient)},
		[]*big.Int{expiration},
		[]ethcommon.Address{ethcommon.HexToAddress(e.wallet.Address())},
	)
	if err != nil {
		return e.fail(ctx, action, req, serrors.NewInternalError(err))
	}

	return e.broadcast(ctx, action, req, calldata)
}

func (e *Engine) cancel(ctx context.Context, action string, req Request) (*models.SponsoredResult, error) {
	tokenID := req.TokenID
	if tokenID == "" {
		id, err := e.reader.TokenOfOwner(ctx, req.LockAddress, req.Recipient)
		if errors.Is(err, chain.ErrNoKey) {
			return e.alreadyDone(ctx, action, req, "recipient holds no key")
		}
		if err != nil {
			return e.fail(ctx, action, req, serrors.NewChainUnavailableError(err))
		}
		tokenID = id
	} else {
		// Token ids are public; a caller-supplied one is only trusted after
		// the recipient is confirmed as its owner.
		owner, err := e.reader.OwnerOfToken(ctx, req.LockAddress, tokenID)
		if errors.Is(err, chain.ErrNoKey) {
			return e.alreadyDone(ctx, action, req, "token no longer exists")
		}
		if err != nil {
			return e.fail(ctx, action, req, serrors.NewChainUnavailableError(err))
		}
		if !strings.EqualFold(owner, req.Recipient) {
			return e.fail(ctx, action, req, serrors.NewNotKeyOwnerError(req.LockAddress, tokenID))
		}
	}

	// Idempotent short-circuit: cancelling an already-invalid key consumes
	// no lease and no rate-limit slot.
	valid, err := e.reader.IsValidKeyToken(ctx, req.LockAddress, tokenID)
	if err != nil {
		return e.fail(ctx, action, req, serrors.NewChainUnavailableError(err))
	}
	if !valid {
		return e.alreadyDone(ctx, action, req, "key already invalid")
	}

	id, ok := new(big.Int).SetString(tokenID, 10)
	if !ok {
		return e.fail(ctx, action, req, serrors.NewBadRequestError(fmt.Sprintf("invalid token id %q", tokenID)))
	}
	calldata, err := chain.LockABI().Pack("expireAndRefundFor", id, big.NewInt(0))
	if err != nil {
		return e.fail(ctx, action, req, serrors.NewInternalError(err))
	}

	return e.broadcast(ctx, action, req, calldata)
}

// ==========================
// BROADCAST
// ==========================

func (e *Engine) broadcast(ctx context.Context, action string, req Request, calldata []byte) (result *models.SponsoredResult, err error) {
	sponsor := e.wallet.Address()

	manager, err := e.reader.IsLockManager(ctx, req.LockAddress, sponsor)
	if err != nil {
		return e.fail(ctx, action, req, serrors.NewChainUnavailableError(err))
	}
	if !manager {
		return e.fail(ctx, action, req, serrors.NewSponsorNotManagerError(sponsor, req.LockAddress))
	}

	lease, err := e.leases.Acquire(ctx, e.chainID, sponsor)
	if errors.Is(err, ErrSponsorBusy) {
		return e.fail(ctx, action, req, serrors.NewSponsorBusyError())
	}
	if err != nil {
		return e.fail(ctx, action, req, serrors.NewInternalError(err))
	}
	// The lease is released on every path out of this function.
	defer func() {
		if relErr := e.leases.Release(ctx, lease); relErr != nil && !errors.Is(relErr, ErrLeaseLost) {
			e.logger.Error("lease release failed", map[string]interface{}{"error": relErr.Error()})
		}
	}()

	if err := e.limiter.Consume(ctx, action); err != nil {
		if errors.Is(err, ErrSponsorRateLimited) {
			return e.fail(ctx, action, req, serrors.NewSponsorRateLimitError(action))
		}
		return e.fail(ctx, action, req, serrors.NewInternalError(err))
	}

	e.checkBalanceFloor(ctx, sponsor)

	pending, err := e.backend.PendingNonceAt(ctx, sponsor)
	if err != nil {
		return e.fail(ctx, action, req, serrors.NewChainUnavailableError(err))
	}
	nonce := pending
	if lease.NextNonce > nonce {
		// A previous broadcast is not yet visible in the pending pool.
		nonce = lease.NextNonce
	}

	gasPrice, err := e.backend.SuggestGasPrice(ctx)
	if err != nil {
		return e.fail(ctx, action, req, serrors.NewChainUnavailableError(err))
	}

	tx, err := e.wallet.SignContractCall(nonce, req.LockAddress, e.gasLimit, gasPrice, calldata)
	if err != nil {
		return e.fail(ctx, action, req, serrors.NewInternalError(err))
	}

	if err := e.backend.SendTransaction(ctx, tx); err != nil {
		lease.State = models.LeaseError
		return e.fail(ctx, action, req, serrors.NewChainUnavailableError(err))
	}

	txHash := tx.Hash().Hex()
	if err := e.leases.RecordBroadcast(ctx, lease, nonce); err != nil {
		e.logger.Error("failed to persist broadcast nonce", map[string]interface{}{
			"nonce": nonce,
			"error": err.Error(),
		})
	}

	e.logger.Info("sponsored transaction broadcast", map[string]interface{}{
		"action": action,
		"lock":   req.LockAddress,
		"txHash": txHash,
		"nonce":  nonce,
	})

	e.confirm(ctx, action, txHash)

	metrics.SponsorTransactions.WithLabelValues(action, "submitted").Inc()
	e.auditRecord(ctx, action, req, "submitted", "", txHash)
	return &models.SponsoredResult{Outcome: models.OutcomeSubmitted, TxHash: txHash, Nonce: nonce}, nil
}

// confirm waits for inclusion up to the confirmation timeout. Timing out is
// not a failure: the transaction stays pending and the client's poll loop
// picks the confirmation up from a later snapshot.
func (e *Engine) confirm(ctx context.Context, action, txHash string) {
	if e.confirmTimeout <= 0 {
		return
	}
	waitCtx, cancel := context.WithTimeout(ctx, e.confirmTimeout)
	defer cancel()

	mined, err := e.backend.WaitMined(waitCtx, txHash)
	switch {
	case err != nil:
		e.logger.Warn("confirmation window elapsed without receipt", map[string]interface{}{
			"action": action,
			"txHash": txHash,
		})
	case !mined:
		e.logger.Error("sponsored transaction reverted", map[string]interface{}{
			"action": action,
			"txHash": txHash,
		})
	}
}

// checkBalanceFloor alerts when the sponsor balance sinks under the
// configured floor. The operation still proceeds; the floor is an early
// warning, not a gate.
func (e *Engine) checkBalanceFloor(ctx context.Context, sponsor string) {
	if e.minBalance.Sign() <= 0 {
		return
	}
	balance, err := e.reader.BalanceAt(ctx, sponsor)
	if err != nil {
		return
	}
	if balance.Cmp(e.minBalance) >= 0 {
		return
	}

	metrics.SponsorBalanceLow.Inc()
	e.logger.Error("sponsor balance under floor", map[string]interface{}{
		"sponsor": sponsor,
		"balance": balance.String(),
		"floor":   e.minBalance.String(),
	})
	if e.notifier != nil && e.alertTopicARN != "" {
		msg := fmt.Sprintf("Sponsor %s balance %s wei is under the %s wei floor on chain %d.",
			sponsor, balance.String(), e.minBalance.String(), e.chainID)
		if err := e.notifier.PublishAlert(ctx, e.alertTopicARN, "Sponsor balance low", msg); err != nil {
			e.logger.Error("balance alert publish failed", map[string]interface{}{"error": err.Error()})
		}
	}
}

// ==========================
// OUTCOMES
// ==========================

func (e *Engine) alreadyDone(ctx context.Context, action string, req Request, detail string) (*models.SponsoredResult, error) {
	metrics.SponsorTransactions.WithLabelValues(action, "already-done").Inc()
	e.auditRecord(ctx, action, req, "already-done", detail, "")
	return &models.SponsoredResult{Outcome: models.OutcomeAlreadyDone}, nil
}

func (e *Engine) fail(ctx context.Context, action string, req Request, err error) (*models.SponsoredResult, error) {
	metrics.SponsorTransactions.WithLabelValues(action, "failed").Inc()
	e.auditRecord(ctx, action, req, "failed", err.Error(), "")
	return &models.SponsoredResult{Outcome: models.OutcomeFailed}, err
}

func (e *Engine) auditRecord(ctx context.Context, action string, req Request, outcome, detail, txHash string) {
	actor := ""
	if req.Session != nil {
		actor = req.Session.UserID
	}
	e.audit.Record(ctx, models.AuditEntry{
		Action:      action,
		Actor:       actor,
		Recipient:   req.Recipient,
		LockAddress: req.LockAddress,
		ChainID:     e.chainID,
		IP:          req.IP,
		UserAgent:   req.UserAgent,
		Outcome:     outcome,
		Detail:      detail,
		TxHash:      txHash,
	})
}
