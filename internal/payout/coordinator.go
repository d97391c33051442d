package payout

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/arthapay/payouts/internal/domain"
)

// sagaState tracks how far a payout attempt got. Compensation is keyed by
// state, not by call site.
type sagaState int

const (
	stateReceived sagaState = iota
	stateAuthenticated
	stateQuotaOK
	stateValidated
	stateFundsReserved
	stateConnectorResolved
	stateGatewayDone
)

// Store is the PayoutTransaction repository surface the coordinator needs.
type Store interface {
	RequestIDExists(ctx context.Context, requestID string) (bool, error)
	CreatePayout(ctx context.Context, txn *domain.PayoutTransaction) error
	// MarkFailed flips an INITIATED row to FAILED without touching balances.
	MarkFailed(ctx context.Context, payoutID, reason string) error
	GetPayoutByRequestID(ctx context.Context, requestID string) (*domain.PayoutTransaction, error)
	CountTransactionsToday(ctx context.Context, merchantID string, from, to time.Time) (int, error)
}

// Ledger is the Balance Ledger. Each method pairs its balance mutation with
// the matching PayoutTransaction write in one atomic storage transaction.
type Ledger interface {
	// Reserve moves amount from available to blocked iff available >= amount.
	// Returns domain.ErrInsufficientFunds without side effects otherwise.
	Reserve(ctx context.Context, merchantID string, amount int64) error
	// Release returns a reservation to available balance and persists the
	// transaction's terminal state. Failure counters are incremented only
	// for FAILED and REVERSED outcomes.
	Release(ctx context.Context, txn *domain.PayoutTransaction) error
	// Settle consumes a reservation on confirmed success, debiting the
	// merchant's wallet and incrementing success counters.
	Settle(ctx context.Context, txn *domain.PayoutTransaction) error
}

// Verifier resolves a bearer credential to a merchant.
type Verifier interface {
	Verify(ctx context.Context, token string) (*domain.MerchantUser, *domain.Merchant, error)
}

// ConnectorResolver finds the merchant's active outbound connector.
type ConnectorResolver interface {
	Resolve(ctx context.Context, merchantID string) (*domain.ConnectorAccount, error)
}

// Gateway performs the remote payout protocol.
type Gateway interface {
	ExecutePayout(ctx context.Context, conn *domain.ConnectorAccount, txn *domain.PayoutTransaction) (*domain.GatewayResult, error)
	CheckStatus(ctx context.Context, conn *domain.ConnectorAccount, requestID, txnID, enquiryID string) (*domain.GatewayResult, error)
}

// Coordinator is the payout saga state machine.
type Coordinator struct {
	verifier  Verifier
	store     Store
	ledger    Ledger
	connector ConnectorResolver
	gateway   Gateway
}

func NewCoordinator(v Verifier, s Store, l Ledger, c ConnectorResolver, g Gateway) *Coordinator {
	return &Coordinator{verifier: v, store: s, ledger: l, connector: c, gateway: g}
}

// Initiate runs one payout attempt end to end. The returned transaction, when
// non-nil, reflects exactly what was persisted; the persisted record is the
// source of truth for what happened, not the HTTP response built from it.
func (c *Coordinator) Initiate(ctx context.Context, token string, req *domain.PayoutRequest) (txn *domain.PayoutTransaction, err error) {
	st := stateReceived

	defer func() {
		if r := recover(); r != nil {
			cause := fmt.Errorf("panic during payout: %v", r)
			c.compensate(ctx, st, txn, cause)
			err = cause
		}
	}()

	_, merchant, err := c.verifier.Verify(ctx, token)
	if err != nil {
		return nil, err
	}
	st = stateAuthenticated

	if err := c.checkQuota(ctx, merchant); err != nil {
		return nil, err
	}
	st = stateQuotaOK

	amount, err := validateRequest(ctx, c.store, req)
	if err != nil {
		return nil, err
	}
	st = stateValidated

	txn = &domain.PayoutTransaction{
		PayoutID:         uuid.NewString(),
		RequestID:        req.RequestID,
		MerchantID:       merchant.ID,
		MerchantName:     merchant.Name,
		MerchantEmail:    merchant.Email,
		MID:              merchant.MID,
		Amount:           amount,
		SettlementAmount: amount,
		Currency:         domain.Currency,
		AccountNumber:    req.AccountNumber,
		IFSC:             req.IFSC,
		BankName:         req.BankName,
		BeneficiaryName:  req.BeneficiaryName,
		PaymentMode:      req.PaymentMode,
		TxnNote:          req.TxnNote,
		Status:           domain.StatusInitiated,
		CreatedAt:        time.Now().UTC(),
	}
	if err := c.store.CreatePayout(ctx, txn); err != nil {
		return nil, fmt.Errorf("create payout: %w", err)
	}

	if err := c.ledger.Reserve(ctx, merchant.ID, amount); err != nil {
		c.compensate(ctx, st, txn, err)
		return txn, err
	}
	st = stateFundsReserved

	conn, err := c.connector.Resolve(ctx, merchant.ID)
	if err != nil {
		c.compensate(ctx, st, txn, err)
		return txn, err
	}
	txn.ConnectorID = conn.ConnectorID
	txn.ConnectorAccountID = conn.ConnectorAccountID
	txn.TerminalID = conn.TerminalID
	st = stateConnectorResolved

	result, err := c.gateway.ExecutePayout(ctx, conn, txn)
	if err != nil {
		c.compensate(ctx, st, txn, err)
		return txn, err
	}
	st = stateGatewayDone

	if err := c.applyResult(ctx, txn, result); err != nil {
		return txn, err
	}
	return txn, nil
}

// applyResult finalizes the ledger according to the gateway's definitive
// status. Reaching here means funds are reserved and the outcome is known.
func (c *Coordinator) applyResult(ctx context.Context, txn *domain.PayoutTransaction, result *domain.GatewayResult) error {
	now := time.Now().UTC()
	txn.TransactionID = result.TxnID
	txn.UTR = result.UTR
	txn.PayoutEnquiryID = result.EnquiryID
	txn.CompletedAt = &now

	switch result.Status {
	case domain.StatusSuccess:
		txn.Status = domain.StatusSuccess
		if err := c.ledger.Settle(ctx, txn); err != nil {
			return fmt.Errorf("settle: %w", err)
		}
	case domain.StatusFailed, domain.StatusReversed:
		txn.Status = result.Status
		txn.Error = fmt.Sprintf("Gateway reported %s", result.Status)
		if err := c.ledger.Release(ctx, txn); err != nil {
			return fmt.Errorf("release: %w", err)
		}
	default:
		// Gateway accepted but the outcome is not final (e.g. PENDING).
		// The reservation is returned so pending funds are never stranded;
		// the status-check sweep resolves the record later.
		txn.Status = result.Status
		if err := c.ledger.Release(ctx, txn); err != nil {
			return fmt.Errorf("release: %w", err)
		}
	}
	return nil
}

// compensate unwinds a failed attempt exactly once, based on how far it got.
// Before funds were reserved only the transaction row is flipped; at or after
// reservation the blocked amount is returned in the same storage transaction.
func (c *Coordinator) compensate(ctx context.Context, st sagaState, txn *domain.PayoutTransaction, cause error) {
	if txn == nil {
		return
	}
	reason := cause.Error()

	if st < stateFundsReserved {
		if err := c.store.MarkFailed(ctx, txn.PayoutID, reason); err != nil {
			log.Printf("payout %s: mark failed: %v", txn.PayoutID, err)
		}
		txn.Status = domain.StatusFailed
		txn.Error = reason
		return
	}

	txn.Status = domain.StatusFailed
	txn.Error = reason
	if err := c.ledger.Release(ctx, txn); err != nil {
		log.Printf("payout %s: release reservation: %v", txn.PayoutID, err)
	}
}

// checkQuota enforces the merchant's daily transaction-count limit over the
// current UTC calendar day. A limit of 0 means unlimited.
func (c *Coordinator) checkQuota(ctx context.Context, merchant *domain.Merchant) error {
	if merchant.DailyTxnLimit <= 0 {
		return nil
	}
	now := time.Now().UTC()
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	count, err := c.store.CountTransactionsToday(ctx, merchant.ID, from, to)
	if err != nil {
		return fmt.Errorf("quota count: %w", err)
	}
	if count >= merchant.DailyTxnLimit {
		return domain.ErrQuotaExceeded
	}
	return nil
}

// Status runs an on-demand gateway status check. It moves no funds and may be
// called repeatedly, including against transactions stranded mid-protocol.
func (c *Coordinator) Status(ctx context.Context, token, requestID, txnID, enquiryID string) (*domain.GatewayResult, error) {
	_, merchant, err := c.verifier.Verify(ctx, token)
	if err != nil {
		return nil, err
	}
	conn, err := c.connector.Resolve(ctx, merchant.ID)
	if err != nil {
		return nil, err
	}
	return c.gateway.CheckStatus(ctx, conn, requestID, txnID, enquiryID)
}

// Balance returns the merchant's user-facing wallet balance.
func (c *Coordinator) Balance(ctx context.Context, token string) (int64, error) {
	_, merchant, err := c.verifier.Verify(ctx, token)
	if err != nil {
		return 0, err
	}
	return merchant.WalletBalance, nil
}

// Lookup fetches a payout record by requestId, scoped to the caller's
// merchant.
func (c *Coordinator) Lookup(ctx context.Context, token, requestID string) (*domain.PayoutTransaction, error) {
	_, merchant, err := c.verifier.Verify(ctx, token)
	if err != nil {
		return nil, err
	}
	txn, err := c.store.GetPayoutByRequestID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if txn == nil || txn.MerchantID != merchant.ID {
		return nil, nil
	}
	return txn, nil
}
