package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arthapay/payouts/internal/domain"
)

// Ledger is the only component that mutates merchant balance rows. Every
// method runs one storage transaction covering both the balance mutation and
// the matching payout_transactions write, so a crash leaves either no effect
// or the full effect.
type Ledger struct {
	db *pgxpool.Pool
}

func NewLedger(db *pgxpool.Pool) *Ledger {
	return &Ledger{db: db}
}

// Reserve moves amount from available to blocked balance. The guard is part
// of the UPDATE itself: concurrent reservations for one merchant serialize on
// the row and the condition is re-evaluated under the row lock, so two
// payouts can never jointly overdraw.
func (l *Ledger) Reserve(ctx context.Context, merchantID string, amount int64) error {
	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE merchant_balances
		 SET available_balance = available_balance - $1,
		     blocked_balance = blocked_balance + $1
		 WHERE merchant_id = $2 AND available_balance >= $1`,
		amount, merchantID)
	if err != nil {
		return fmt.Errorf("reserve failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInsufficientFunds
	}
	return tx.Commit(ctx)
}

// Release returns txn.Amount from blocked to available balance and persists
// the transaction's terminal state. FAILED and REVERSED outcomes count as
// failures; any other passthrough status bumps totals only. Calling it again
// for an already-terminal transaction moves nothing.
func (l *Ledger) Release(ctx context.Context, txn *domain.PayoutTransaction) error {
	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	flipped, err := writeTerminal(ctx, tx, txn)
	if err != nil {
		return err
	}
	if !flipped {
		return nil
	}

	failedDelta := 0
	if txn.Status == domain.StatusFailed || txn.Status == domain.StatusReversed {
		failedDelta = 1
	}
	_, err = tx.Exec(ctx,
		`UPDATE merchant_balances
		 SET available_balance = available_balance + $1,
		     blocked_balance = blocked_balance - $1,
		     total_transactions = total_transactions + 1,
		     payout_transactions = payout_transactions + 1,
		     failed_transactions = failed_transactions + $2
		 WHERE merchant_id = $3`,
		txn.Amount, failedDelta, txn.MerchantID)
	if err != nil {
		return fmt.Errorf("release failed: %w", err)
	}
	return tx.Commit(ctx)
}

// Settle consumes the reservation on confirmed success. The amount left
// available_balance at reserve time; here it leaves blocked_balance for good
// and the merchant's wallet is debited. Like Release, it is a no-op for a
// transaction that already reached a terminal state.
func (l *Ledger) Settle(ctx context.Context, txn *domain.PayoutTransaction) error {
	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	flipped, err := writeTerminal(ctx, tx, txn)
	if err != nil {
		return err
	}
	if !flipped {
		return nil
	}

	_, err = tx.Exec(ctx,
		`UPDATE merchant_balances
		 SET blocked_balance = blocked_balance - $1,
		     total_transactions = total_transactions + 1,
		     payout_transactions = payout_transactions + 1,
		     successful_transactions = successful_transactions + 1,
		     total_debits = total_debits + $1
		 WHERE merchant_id = $2`,
		txn.Amount, txn.MerchantID)
	if err != nil {
		return fmt.Errorf("settle failed: %w", err)
	}

	_, err = tx.Exec(ctx,
		"UPDATE merchants SET wallet_balance = wallet_balance - $1 WHERE id = $2",
		txn.Amount, txn.MerchantID)
	if err != nil {
		return fmt.Errorf("wallet debit failed: %w", err)
	}
	return tx.Commit(ctx)
}

// writeTerminal persists the transaction's one-and-only transition out of
// INITIATED. The status guard keeps a terminal row from being rewritten; the
// returned flag tells the caller whether this call performed the transition,
// and so whether the paired balance mutation may run.
func writeTerminal(ctx context.Context, tx pgx.Tx, txn *domain.PayoutTransaction) (bool, error) {
	tag, err := tx.Exec(ctx,
		`UPDATE payout_transactions
		 SET status = $1, error = $2, transaction_id = $3, utr = $4,
		     payout_enquiry_id = $5, completed_at = $6
		 WHERE payout_id = $7 AND status = $8`,
		txn.Status, txn.Error, txn.TransactionID, txn.UTR,
		txn.PayoutEnquiryID, txn.CompletedAt, txn.PayoutID, domain.StatusInitiated)
	if err != nil {
		return false, fmt.Errorf("payout status write failed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
