package payout_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/arthapay/payouts/internal/domain"
	"github.com/arthapay/payouts/internal/payout"
)

// fakeVerifier returns a fixed merchant or error.
type fakeVerifier struct {
	merchant *domain.Merchant
	err      error
}

func (v *fakeVerifier) Verify(context.Context, string) (*domain.MerchantUser, *domain.Merchant, error) {
	if v.err != nil {
		return nil, nil, v.err
	}
	return &domain.MerchantUser{ID: "u1", MerchantID: v.merchant.ID}, v.merchant, nil
}

// fakeStore keeps payout rows in memory, keyed by requestId.
type fakeStore struct {
	mu       sync.Mutex
	rows     map[string]*domain.PayoutTransaction
	txnCount int
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: map[string]*domain.PayoutTransaction{}}
}

func (s *fakeStore) RequestIDExists(_ context.Context, requestID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rows[requestID]
	return ok, nil
}

func (s *fakeStore) CreatePayout(_ context.Context, txn *domain.PayoutTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[txn.RequestID]; ok {
		return domain.ErrDuplicateRequest
	}
	cp := *txn
	s.rows[txn.RequestID] = &cp
	return nil
}

func (s *fakeStore) MarkFailed(_ context.Context, payoutID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.PayoutID == payoutID && row.Status == domain.StatusInitiated {
			row.Status = domain.StatusFailed
			row.Error = reason
		}
	}
	return nil
}

func (s *fakeStore) GetPayoutByRequestID(_ context.Context, requestID string) (*domain.PayoutTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[requestID]
	if !ok {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (s *fakeStore) CountTransactionsToday(context.Context, string, time.Time, time.Time) (int, error) {
	return s.txnCount, nil
}

// writeTerminal mirrors the store-side one-shot terminal transition. It
// reports whether this call performed the transition.
func (s *fakeStore) writeTerminal(txn *domain.PayoutTransaction) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[txn.RequestID]
	if ok && row.Status == domain.StatusInitiated {
		*row = *txn
		return true
	}
	return false
}

// fakeLedger enforces the compare-and-set reserve semantics in memory.
type fakeLedger struct {
	mu        sync.Mutex
	available int64
	blocked   int64
	balance   domain.MerchantBalance
	store     *fakeStore
}

func (l *fakeLedger) Reserve(_ context.Context, _ string, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.available < amount {
		return domain.ErrInsufficientFunds
	}
	l.available -= amount
	l.blocked += amount
	return nil
}

func (l *fakeLedger) Release(_ context.Context, txn *domain.PayoutTransaction) error {
	if !l.store.writeTerminal(txn) {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.available += txn.Amount
	l.blocked -= txn.Amount
	l.balance.TotalTransactions++
	l.balance.PayoutTransactions++
	if txn.Status == domain.StatusFailed || txn.Status == domain.StatusReversed {
		l.balance.FailedTransactions++
	}
	return nil
}

func (l *fakeLedger) Settle(_ context.Context, txn *domain.PayoutTransaction) error {
	if !l.store.writeTerminal(txn) {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.blocked -= txn.Amount
	l.balance.TotalTransactions++
	l.balance.PayoutTransactions++
	l.balance.SuccessfulTransactions++
	l.balance.TotalDebits += txn.Amount
	return nil
}

type fakeResolver struct {
	conn *domain.ConnectorAccount
	err  error
}

func (r *fakeResolver) Resolve(context.Context, string) (*domain.ConnectorAccount, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.conn, nil
}

type fakeGateway struct {
	result *domain.GatewayResult
	err    error
}

func (g *fakeGateway) ExecutePayout(context.Context, *domain.ConnectorAccount, *domain.PayoutTransaction) (*domain.GatewayResult, error) {
	return g.result, g.err
}

func (g *fakeGateway) CheckStatus(context.Context, *domain.ConnectorAccount, string, string, string) (*domain.GatewayResult, error) {
	return g.result, g.err
}

type fixture struct {
	coordinator *payout.Coordinator
	store       *fakeStore
	ledger      *fakeLedger
	gateway     *fakeGateway
	resolver    *fakeResolver
	merchant    *domain.Merchant
}

func newFixture(available int64) *fixture {
	merchant := &domain.Merchant{ID: "m1", Name: "Demo", Email: "demo@example.in", MID: "MID1", WalletBalance: available}
	store := newFakeStore()
	ledger := &fakeLedger{available: available, store: store}
	resolver := &fakeResolver{conn: &domain.ConnectorAccount{
		ConnectorID:        "c1",
		ConnectorAccountID: "ca1",
		TerminalID:         "t1",
		Secrets:            map[string]string{"encryption_key": "ek", "header_key": "hk"},
	}}
	gateway := &fakeGateway{result: &domain.GatewayResult{TxnID: "TXN1", Status: domain.StatusSuccess, UTR: "UTR1"}}
	return &fixture{
		coordinator: payout.NewCoordinator(&fakeVerifier{merchant: merchant}, store, ledger, resolver, gateway),
		store:       store,
		ledger:      ledger,
		gateway:     gateway,
		resolver:    resolver,
		merchant:    merchant,
	}
}

func request(requestID string, amount int64) *domain.PayoutRequest {
	return &domain.PayoutRequest{
		RequestID:       requestID,
		AccountNumber:   "00112233445566",
		IFSC:            "HDFC0001234",
		BankName:        "HDFC Bank",
		BeneficiaryName: "Asha Rao",
		PaymentMode:     "IMPS",
		Amount:          float64(amount),
	}
}

func TestPayoutSuccess(t *testing.T) {
	f := newFixture(5000)

	txn, err := f.coordinator.Initiate(context.Background(), "tok", request("R1", 2000))
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if txn.Status != domain.StatusSuccess {
		t.Errorf("status = %s, want SUCCESS", txn.Status)
	}
	if txn.UTR != "UTR1" || txn.TransactionID != "TXN1" {
		t.Errorf("utr/txnId = %q/%q, want UTR1/TXN1", txn.UTR, txn.TransactionID)
	}
	if txn.CompletedAt == nil {
		t.Error("completedAt not set")
	}
	if f.ledger.available != 3000 {
		t.Errorf("available = %d, want 3000", f.ledger.available)
	}
	if f.ledger.blocked != 0 {
		t.Errorf("blocked = %d, want 0", f.ledger.blocked)
	}
	if f.ledger.balance.SuccessfulTransactions != 1 || f.ledger.balance.TotalDebits != 2000 {
		t.Errorf("counters = %+v", f.ledger.balance)
	}

	stored, _ := f.store.GetPayoutByRequestID(context.Background(), "R1")
	if stored == nil || stored.Status != domain.StatusSuccess {
		t.Errorf("persisted row = %+v, want SUCCESS", stored)
	}
}

func TestPayoutGatewayFailed(t *testing.T) {
	f := newFixture(5000)
	f.gateway.result = &domain.GatewayResult{TxnID: "TXN1", Status: domain.StatusFailed}

	txn, err := f.coordinator.Initiate(context.Background(), "tok", request("R1", 2000))
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if txn.Status != domain.StatusFailed {
		t.Errorf("status = %s, want FAILED", txn.Status)
	}
	if f.ledger.available != 5000 || f.ledger.blocked != 0 {
		t.Errorf("balance = %d/%d, want 5000/0", f.ledger.available, f.ledger.blocked)
	}
	if f.ledger.balance.FailedTransactions != 1 {
		t.Errorf("failed counter = %d, want 1", f.ledger.balance.FailedTransactions)
	}
}

func TestPayoutGatewayReversed(t *testing.T) {
	f := newFixture(5000)
	f.gateway.result = &domain.GatewayResult{TxnID: "TXN1", Status: domain.StatusReversed}

	txn, err := f.coordinator.Initiate(context.Background(), "tok", request("R1", 2000))
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if txn.Status != domain.StatusReversed {
		t.Errorf("status = %s, want REVERSED", txn.Status)
	}
	if f.ledger.available != 5000 || f.ledger.blocked != 0 {
		t.Errorf("balance = %d/%d, want 5000/0", f.ledger.available, f.ledger.blocked)
	}
	if f.ledger.balance.FailedTransactions != 1 {
		t.Errorf("failed counter = %d, want 1", f.ledger.balance.FailedTransactions)
	}
}

func TestPayoutGatewayPending(t *testing.T) {
	f := newFixture(5000)
	f.gateway.result = &domain.GatewayResult{TxnID: "TXN1", Status: "PENDING"}

	txn, err := f.coordinator.Initiate(context.Background(), "tok", request("R1", 2000))
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if txn.Status != "PENDING" {
		t.Errorf("status = %s, want PENDING passthrough", txn.Status)
	}
	// Pending funds are released, not stranded in blocked.
	if f.ledger.available != 5000 || f.ledger.blocked != 0 {
		t.Errorf("balance = %d/%d, want 5000/0", f.ledger.available, f.ledger.blocked)
	}
	if f.ledger.balance.FailedTransactions != 0 {
		t.Errorf("failed counter = %d, want 0", f.ledger.balance.FailedTransactions)
	}
	if f.ledger.balance.TotalTransactions != 1 || f.ledger.balance.PayoutTransactions != 1 {
		t.Errorf("totals = %+v, want 1/1", f.ledger.balance)
	}
}

func TestPayoutInsufficientBalance(t *testing.T) {
	f := newFixture(500)

	txn, err := f.coordinator.Initiate(context.Background(), "tok", request("R1", 2000))
	if err == nil || err.Error() != "Insufficient balance" {
		t.Fatalf("err = %v, want Insufficient balance", err)
	}
	if f.ledger.available != 500 || f.ledger.blocked != 0 {
		t.Errorf("balance = %d/%d, want 500/0", f.ledger.available, f.ledger.blocked)
	}
	// No payout may be left non-terminal.
	if txn == nil || txn.Status != domain.StatusFailed {
		t.Errorf("txn = %+v, want terminal FAILED", txn)
	}
	stored, _ := f.store.GetPayoutByRequestID(context.Background(), "R1")
	if stored == nil || stored.Status != domain.StatusFailed || stored.Error != "Insufficient balance" {
		t.Errorf("persisted row = %+v", stored)
	}
}

func TestPayoutDuplicateRequestID(t *testing.T) {
	f := newFixture(5000)

	if _, err := f.coordinator.Initiate(context.Background(), "tok", request("R1", 2000)); err != nil {
		t.Fatalf("first Initiate: %v", err)
	}
	availableAfterFirst := f.ledger.available

	_, err := f.coordinator.Initiate(context.Background(), "tok", request("R1", 2000))
	if err == nil || err.Error() != "RequestId already exists" {
		t.Fatalf("err = %v, want RequestId already exists", err)
	}
	if f.ledger.available != availableAfterFirst {
		t.Errorf("balance changed on duplicate submission: %d -> %d", availableAfterFirst, f.ledger.available)
	}
}

func TestPayoutGatewayProtocolError(t *testing.T) {
	f := newFixture(5000)
	f.gateway.result = nil
	f.gateway.err = &domain.GatewayError{Stage: domain.StageInitiate, Description: "Beneficiary bank unavailable"}

	txn, err := f.coordinator.Initiate(context.Background(), "tok", request("R1", 2000))
	if err == nil {
		t.Fatal("expected gateway error")
	}
	if f.ledger.available != 5000 || f.ledger.blocked != 0 {
		t.Errorf("balance = %d/%d, want full release", f.ledger.available, f.ledger.blocked)
	}
	if txn.Status != domain.StatusFailed || txn.Error != "Beneficiary bank unavailable" {
		t.Errorf("txn = %s/%q", txn.Status, txn.Error)
	}
}

func TestPayoutNoConnector(t *testing.T) {
	f := newFixture(5000)
	f.resolver.conn = nil
	f.resolver.err = domain.ErrNoConnector

	txn, err := f.coordinator.Initiate(context.Background(), "tok", request("R1", 2000))
	if err != domain.ErrNoConnector {
		t.Fatalf("err = %v, want ErrNoConnector", err)
	}
	// Reservation already happened; it must be unwound.
	if f.ledger.available != 5000 || f.ledger.blocked != 0 {
		t.Errorf("balance = %d/%d, want 5000/0", f.ledger.available, f.ledger.blocked)
	}
	if txn.Status != domain.StatusFailed {
		t.Errorf("status = %s, want FAILED", txn.Status)
	}
}

func TestPayoutQuotaExceeded(t *testing.T) {
	f := newFixture(5000)
	f.merchant.DailyTxnLimit = 3
	f.store.txnCount = 3

	_, err := f.coordinator.Initiate(context.Background(), "tok", request("R1", 2000))
	if err != domain.ErrQuotaExceeded {
		t.Fatalf("err = %v, want ErrQuotaExceeded", err)
	}
	if f.ledger.available != 5000 {
		t.Errorf("balance touched on quota rejection")
	}
	if stored, _ := f.store.GetPayoutByRequestID(context.Background(), "R1"); stored != nil {
		t.Errorf("row created before quota check passed: %+v", stored)
	}
}

func TestPayoutQuotaUnlimitedWhenZero(t *testing.T) {
	f := newFixture(5000)
	f.merchant.DailyTxnLimit = 0
	f.store.txnCount = 10000

	if _, err := f.coordinator.Initiate(context.Background(), "tok", request("R1", 2000)); err != nil {
		t.Fatalf("Initiate with unlimited quota: %v", err)
	}
}

func TestPayoutAuthFailure(t *testing.T) {
	f := newFixture(5000)
	authErr := &domain.AuthError{Reason: domain.AuthExpiredToken, Msg: "Token has expired"}
	f.coordinator = payout.NewCoordinator(&fakeVerifier{err: authErr}, f.store, f.ledger, f.resolver, f.gateway)

	_, err := f.coordinator.Initiate(context.Background(), "tok", request("R1", 2000))
	if err != authErr {
		t.Fatalf("err = %v, want auth error", err)
	}
	if f.ledger.available != 5000 {
		t.Errorf("balance touched on auth failure")
	}
}

// Concurrent payouts for one merchant must never overdraw, and blocked
// balance must drain to zero once every attempt is terminal.
func TestConcurrentPayoutsNeverOverdraw(t *testing.T) {
	const (
		initial  = 10000
		amount   = 1000
		attempts = 25
	)
	f := newFixture(initial)

	var wg sync.WaitGroup
	results := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.coordinator.Initiate(context.Background(), "tok", request(fmt.Sprintf("R%d", i), amount))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		}
	}
	if succeeded != initial/amount {
		t.Errorf("succeeded = %d, want %d", succeeded, initial/amount)
	}
	if f.ledger.available < 0 {
		t.Errorf("available went negative: %d", f.ledger.available)
	}
	if f.ledger.blocked != 0 {
		t.Errorf("blocked = %d after quiescence, want 0", f.ledger.blocked)
	}
	if got := int64(initial) - int64(succeeded)*amount; f.ledger.available != got {
		t.Errorf("available = %d, want %d", f.ledger.available, got)
	}
}

// Finalizing an already-terminal transaction must move no funds: the ledger
// gates every balance mutation on the one-shot terminal status write.
func TestRepeatedFinalizeMovesFundsOnce(t *testing.T) {
	f := newFixture(5000)
	f.gateway.result = &domain.GatewayResult{TxnID: "TXN1", Status: domain.StatusFailed}

	txn, err := f.coordinator.Initiate(context.Background(), "tok", request("R1", 2000))
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if f.ledger.available != 5000 || f.ledger.blocked != 0 {
		t.Fatalf("balance = %d/%d after release, want 5000/0", f.ledger.available, f.ledger.blocked)
	}

	if err := f.ledger.Release(context.Background(), txn); err != nil {
		t.Fatalf("second Release: %v", err)
	}
	if err := f.ledger.Settle(context.Background(), txn); err != nil {
		t.Fatalf("Settle after terminal: %v", err)
	}
	if f.ledger.available != 5000 || f.ledger.blocked != 0 {
		t.Errorf("balance = %d/%d after repeated finalize, want 5000/0", f.ledger.available, f.ledger.blocked)
	}
	if f.ledger.balance.FailedTransactions != 1 || f.ledger.balance.TotalTransactions != 1 {
		t.Errorf("counters double-applied: %+v", f.ledger.balance)
	}
}

func TestStatusLookup(t *testing.T) {
	f := newFixture(5000)
	f.gateway.result = &domain.GatewayResult{TxnID: "TXN9", Status: domain.StatusSuccess, UTR: "UTR9", TxnDate: "2026-09-01"}

	res, err := f.coordinator.Status(context.Background(), "tok", "R1", "TXN9", "")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if res.Status != domain.StatusSuccess || res.UTR != "UTR9" {
		t.Errorf("result = %+v", res)
	}
	// Status checks move no funds however often they run.
	f.coordinator.Status(context.Background(), "tok", "R1", "TXN9", "")
	if f.ledger.available != 5000 || f.ledger.blocked != 0 {
		t.Errorf("status check mutated balance: %d/%d", f.ledger.available, f.ledger.blocked)
	}
}

func TestBalanceLookup(t *testing.T) {
	f := newFixture(5000)
	got, err := f.coordinator.Balance(context.Background(), "tok")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if got != 5000 {
		t.Errorf("walletBalance = %d, want 5000", got)
	}
}

func TestLookupScopedToMerchant(t *testing.T) {
	f := newFixture(5000)
	if _, err := f.coordinator.Initiate(context.Background(), "tok", request("R1", 2000)); err != nil {
		t.Fatalf("Initiate: %v", err)
	}

	txn, err := f.coordinator.Lookup(context.Background(), "tok", "R1")
	if err != nil || txn == nil {
		t.Fatalf("Lookup: %v, %v", txn, err)
	}

	other := &domain.Merchant{ID: "m2", WalletBalance: 0}
	foreign := payout.NewCoordinator(&fakeVerifier{merchant: other}, f.store, f.ledger, f.resolver, f.gateway)
	txn, err = foreign.Lookup(context.Background(), "tok", "R1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if txn != nil {
		t.Error("payout visible to a different merchant")
	}
}
