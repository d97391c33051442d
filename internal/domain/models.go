package domain

import "time"

// Payout lifecycle statuses. A PayoutTransaction leaves StatusInitiated
// exactly once; any other gateway-reported status (e.g. "PENDING") is stored
// verbatim as a passthrough terminal state.
const (
	StatusInitiated = "INITIATED"
	StatusSuccess   = "SUCCESS"
	StatusFailed    = "FAILED"
	StatusReversed  = "REVERSED"
)

// Currency is fixed; multi-currency is out of scope.
const Currency = "INR"

// MinPayoutAmount is the minimum accepted payout amount in rupees.
const MinPayoutAmount = 1000

// PayoutRequest is the DTO for incoming payout initiations. Amount is left
// untyped so a non-numeric value reaches the validator instead of failing
// the JSON decode with a generic message.
type PayoutRequest struct {
	RequestID       string      `json:"requestId"`
	AccountNumber   string      `json:"beneficiary_account_number"`
	IFSC            string      `json:"beneficiary_bank_ifsc"`
	BankName        string      `json:"beneficiary_bank_name"`
	BeneficiaryName string      `json:"beneficiary_name"`
	PaymentMode     string      `json:"payment_mode"`
	TxnNote         string      `json:"txn_note,omitempty"`
	Amount          interface{} `json:"amount"`
}

// PayoutTransaction is the immutable record of a payout attempt. One row per
// attempt; requestId is the caller-supplied idempotency key and is unique.
type PayoutTransaction struct {
	PayoutID           string     `json:"payoutId"`
	RequestID          string     `json:"requestId"`
	MerchantID         string     `json:"merchantId"`
	MerchantName       string     `json:"merchantName,omitempty"`
	MerchantEmail      string     `json:"merchantEmail,omitempty"`
	MID                string     `json:"mid,omitempty"`
	Amount             int64      `json:"amount"`
	SettlementAmount   int64      `json:"settlementAmount"`
	Currency           string     `json:"currency"`
	AccountNumber      string     `json:"beneficiaryAccountNumber"`
	IFSC               string     `json:"beneficiaryIFSC"`
	BankName           string     `json:"beneficiaryBankName"`
	BeneficiaryName    string     `json:"beneficiaryName"`
	PaymentMode        string     `json:"paymentMode"`
	TxnNote            string     `json:"txnNote,omitempty"`
	ConnectorID        string     `json:"connectorId,omitempty"`
	ConnectorAccountID string     `json:"connectorAccountId,omitempty"`
	TerminalID         string     `json:"terminalId,omitempty"`
	Status             string     `json:"status"`
	Error              string     `json:"error,omitempty"`
	TransactionID      string     `json:"transactionId,omitempty"`
	UTR                string     `json:"utr,omitempty"`
	PayoutEnquiryID    string     `json:"payoutEnquiryId,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	CompletedAt        *time.Time `json:"completedAt,omitempty"`
}

// Merchant is the merchant profile. WalletBalance is the user-facing balance
// shown on the dashboard; DailyTxnLimit of 0 means unlimited.
type Merchant struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	MID           string `json:"mid"`
	WalletBalance int64  `json:"walletBalance"`
	DailyTxnLimit int    `json:"dailyTxnLimit"`
}

// MerchantUser is the API credential holder for a merchant. SecretHash is the
// bcrypt hash of the API secret embedded in issued tokens.
type MerchantUser struct {
	ID         string
	MerchantID string
	Email      string
	SecretHash string
}

// MerchantBalance is owned exclusively by the Balance Ledger. Invariant:
// AvailableBalance >= 0 and BlockedBalance >= 0 after every mutation, and
// BlockedBalance equals the sum of amounts reserved by in-flight payouts.
type MerchantBalance struct {
	MerchantID             string `json:"merchantId"`
	AvailableBalance       int64  `json:"availableBalance"`
	BlockedBalance         int64  `json:"blockedBalance"`
	TotalTransactions      int64  `json:"totalTransactions"`
	PayoutTransactions     int64  `json:"payoutTransactions"`
	SuccessfulTransactions int64  `json:"successfulTransactions"`
	FailedTransactions     int64  `json:"failedTransactions"`
	TotalDebits            int64  `json:"totalDebits"`
}

// ConnectorAccount is a merchant's configured outbound gateway. Secrets holds
// the normalized integration key/value pairs; read-only to the coordinator.
type ConnectorAccount struct {
	ConnectorID        string
	ConnectorAccountID string
	TerminalID         string
	Secrets            map[string]string
}

// GatewayResult is the definitive outcome of the gateway protocol for one
// payout, applied to the transaction and ledger by the coordinator.
type GatewayResult struct {
	TxnID     string
	Status    string
	UTR       string
	EnquiryID string
	TxnDate   string
}
