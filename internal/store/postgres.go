package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arthapay/payouts/internal/domain"
)

type Store struct {
	Db *pgxpool.Pool
}

func NewStore(connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{Db: pool}, nil
}

func (s *Store) Close() {
	s.Db.Close()
}

// Init ensures all required tables exist.
func (s *Store) Init(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.Db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema init: %w", err)
		}
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS merchants (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL,
		mid TEXT NOT NULL,
		wallet_balance BIGINT NOT NULL DEFAULT 0,
		daily_txn_limit INT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS merchant_users (
		id TEXT PRIMARY KEY,
		merchant_id TEXT NOT NULL REFERENCES merchants(id),
		email TEXT NOT NULL,
		secret_hash TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS merchant_balances (
		merchant_id TEXT PRIMARY KEY REFERENCES merchants(id),
		available_balance BIGINT NOT NULL DEFAULT 0 CHECK (available_balance >= 0),
		blocked_balance BIGINT NOT NULL DEFAULT 0 CHECK (blocked_balance >= 0),
		total_transactions BIGINT NOT NULL DEFAULT 0,
		payout_transactions BIGINT NOT NULL DEFAULT 0,
		successful_transactions BIGINT NOT NULL DEFAULT 0,
		failed_transactions BIGINT NOT NULL DEFAULT 0,
		total_debits BIGINT NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS connector_accounts (
		id TEXT PRIMARY KEY,
		merchant_id TEXT NOT NULL REFERENCES merchants(id),
		connector_id TEXT NOT NULL,
		connector_account_id TEXT NOT NULL,
		terminal_id TEXT NOT NULL DEFAULT '',
		integration_keys JSONB,
		is_primary BOOLEAN NOT NULL DEFAULT FALSE,
		active BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE TABLE IF NOT EXISTS payout_transactions (
		payout_id TEXT PRIMARY KEY,
		request_id TEXT NOT NULL UNIQUE,
		merchant_id TEXT NOT NULL REFERENCES merchants(id),
		merchant_name TEXT NOT NULL DEFAULT '',
		merchant_email TEXT NOT NULL DEFAULT '',
		mid TEXT NOT NULL DEFAULT '',
		amount BIGINT NOT NULL,
		settlement_amount BIGINT NOT NULL,
		currency TEXT NOT NULL,
		account_number TEXT NOT NULL,
		ifsc TEXT NOT NULL,
		bank_name TEXT NOT NULL,
		beneficiary_name TEXT NOT NULL,
		payment_mode TEXT NOT NULL,
		txn_note TEXT NOT NULL DEFAULT '',
		connector_id TEXT NOT NULL DEFAULT '',
		connector_account_id TEXT NOT NULL DEFAULT '',
		terminal_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		transaction_id TEXT NOT NULL DEFAULT '',
		utr TEXT NOT NULL DEFAULT '',
		payout_enquiry_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_payouts_merchant_created ON payout_transactions(merchant_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS payin_transactions (
		id TEXT PRIMARY KEY,
		merchant_id TEXT NOT NULL REFERENCES merchants(id),
		amount BIGINT NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_payins_merchant_created ON payin_transactions(merchant_id, created_at)`,
}

func (s *Store) GetMerchantUser(ctx context.Context, userID string) (*domain.MerchantUser, error) {
	var u domain.MerchantUser
	err := s.Db.QueryRow(ctx,
		"SELECT id, merchant_id, email, secret_hash FROM merchant_users WHERE id = $1",
		userID).Scan(&u.ID, &u.MerchantID, &u.Email, &u.SecretHash)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (s *Store) GetMerchant(ctx context.Context, merchantID string) (*domain.Merchant, error) {
	var m domain.Merchant
	err := s.Db.QueryRow(ctx,
		"SELECT id, name, email, mid, wallet_balance, daily_txn_limit FROM merchants WHERE id = $1",
		merchantID).Scan(&m.ID, &m.Name, &m.Email, &m.MID, &m.WalletBalance, &m.DailyTxnLimit)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

// GetActiveConnector returns the merchant's primary active connector account
// with its raw integration keys, or nil when none is configured.
func (s *Store) GetActiveConnector(ctx context.Context, merchantID string) (*domain.ConnectorAccount, json.RawMessage, error) {
	var acct domain.ConnectorAccount
	var raw []byte
	err := s.Db.QueryRow(ctx,
		`SELECT connector_id, connector_account_id, terminal_id, integration_keys
		 FROM connector_accounts
		 WHERE merchant_id = $1 AND active = TRUE
		 ORDER BY is_primary DESC
		 LIMIT 1`,
		merchantID).Scan(&acct.ConnectorID, &acct.ConnectorAccountID, &acct.TerminalID, &raw)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	return &acct, raw, nil
}

func (s *Store) RequestIDExists(ctx context.Context, requestID string) (bool, error) {
	var exists bool
	err := s.Db.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM payout_transactions WHERE request_id = $1)",
		requestID).Scan(&exists)
	return exists, err
}

// CreatePayout inserts a new INITIATED row. The unique index on request_id is
// the storage-level idempotency guarantee; a concurrent duplicate maps to
// domain.ErrDuplicateRequest.
func (s *Store) CreatePayout(ctx context.Context, txn *domain.PayoutTransaction) error {
	_, err := s.Db.Exec(ctx,
		`INSERT INTO payout_transactions
		 (payout_id, request_id, merchant_id, merchant_name, merchant_email, mid,
		  amount, settlement_amount, currency, account_number, ifsc, bank_name,
		  beneficiary_name, payment_mode, txn_note, status, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		txn.PayoutID, txn.RequestID, txn.MerchantID, txn.MerchantName, txn.MerchantEmail, txn.MID,
		txn.Amount, txn.SettlementAmount, txn.Currency, txn.AccountNumber, txn.IFSC, txn.BankName,
		txn.BeneficiaryName, txn.PaymentMode, txn.TxnNote, txn.Status, txn.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrDuplicateRequest
		}
		return err
	}
	return nil
}

// MarkFailed flips an INITIATED row to FAILED. Pre-reservation failures only;
// no balance is touched.
func (s *Store) MarkFailed(ctx context.Context, payoutID, reason string) error {
	_, err := s.Db.Exec(ctx,
		`UPDATE payout_transactions
		 SET status = $1, error = $2, completed_at = NOW()
		 WHERE payout_id = $3 AND status = $4`,
		domain.StatusFailed, reason, payoutID, domain.StatusInitiated)
	return err
}

func (s *Store) GetPayoutByRequestID(ctx context.Context, requestID string) (*domain.PayoutTransaction, error) {
	var t domain.PayoutTransaction
	err := s.Db.QueryRow(ctx,
		`SELECT payout_id, request_id, merchant_id, merchant_name, merchant_email, mid,
		        amount, settlement_amount, currency, account_number, ifsc, bank_name,
		        beneficiary_name, payment_mode, txn_note, connector_id, connector_account_id,
		        terminal_id, status, error, transaction_id, utr, payout_enquiry_id,
		        created_at, completed_at
		 FROM payout_transactions WHERE request_id = $1`,
		requestID).Scan(
		&t.PayoutID, &t.RequestID, &t.MerchantID, &t.MerchantName, &t.MerchantEmail, &t.MID,
		&t.Amount, &t.SettlementAmount, &t.Currency, &t.AccountNumber, &t.IFSC, &t.BankName,
		&t.BeneficiaryName, &t.PaymentMode, &t.TxnNote, &t.ConnectorID, &t.ConnectorAccountID,
		&t.TerminalID, &t.Status, &t.Error, &t.TransactionID, &t.UTR, &t.PayoutEnquiryID,
		&t.CreatedAt, &t.CompletedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// CountTransactionsToday counts inbound plus outbound transactions for the
// merchant inside the given window, for the daily quota check.
func (s *Store) CountTransactionsToday(ctx context.Context, merchantID string, from, to time.Time) (int, error) {
	var payouts, payins int
	err := s.Db.QueryRow(ctx,
		"SELECT COUNT(*) FROM payout_transactions WHERE merchant_id = $1 AND created_at >= $2 AND created_at < $3",
		merchantID, from, to).Scan(&payouts)
	if err != nil {
		return 0, err
	}
	err = s.Db.QueryRow(ctx,
		"SELECT COUNT(*) FROM payin_transactions WHERE merchant_id = $1 AND created_at >= $2 AND created_at < $3",
		merchantID, from, to).Scan(&payins)
	if err != nil {
		return 0, err
	}
	return payouts + payins, nil
}
