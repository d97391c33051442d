package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/arthapay/payouts/internal/domain"
)

// Connector secret keys the adapter requires.
const (
	secretEncryptionKey = "encryption_key"
	secretHeaderKey     = "header_key"
)

// Adapter drives the remote gateway's encrypt -> initiate -> decrypt ->
// status-check protocol. Every sub-call is a single attempt; failures are
// surfaced as *domain.GatewayError, never retried here.
type Adapter struct {
	cryptoURL   string
	initiateURL string
	statusURL   string
	client      *http.Client
}

func NewAdapter(baseURL string) *Adapter {
	return &Adapter{
		cryptoURL:   baseURL + "/api/crypto",
		initiateURL: baseURL + "/api/payout/initiate",
		statusURL:   baseURL + "/api/payout/status",
		client:      &http.Client{Timeout: 30 * time.Second},
	}
}

type envelope struct {
	ResponseCode string          `json:"responseCode"`
	Data         json.RawMessage `json:"data"`
	Description  string          `json:"description,omitempty"`
}

type cryptoRequest struct {
	Header string      `json:"header"`
	Op     string      `json:"op"`
	Data   interface{} `json:"data"`
	Key    string      `json:"key"`
}

type payoutRequest struct {
	Header  string `json:"header"`
	EncData string `json:"encData"`
}

type initiateResult struct {
	TxnID string `json:"txnId"`
}

type statusResult struct {
	TxnStatus       string `json:"txnStatus"`
	UtrNo           string `json:"utrNo"`
	TxnDate         string `json:"txnDate"`
	PayoutEnquiryID string `json:"payoutEnquiryId"`
}

// ExecutePayout runs the full protocol for a freshly created payout and
// returns the gateway's definitive result.
func (a *Adapter) ExecutePayout(ctx context.Context, conn *domain.ConnectorAccount, txn *domain.PayoutTransaction) (*domain.GatewayResult, error) {
	encKey, headerKey, err := requiredSecrets(conn)
	if err != nil {
		return nil, err
	}

	// 1. Encrypt the beneficiary + amount payload.
	payload := map[string]string{
		"requestId":       txn.RequestID,
		"amount":          rupees(txn.Amount),
		"accountNumber":   txn.AccountNumber,
		"ifsc":            txn.IFSC,
		"bankName":        txn.BankName,
		"beneficiaryName": txn.BeneficiaryName,
		"paymentMode":     txn.PaymentMode,
		"txnNote":         txn.TxnNote,
		"terminalId":      conn.TerminalID,
	}
	encData, err := a.crypto(ctx, "encrypt", headerKey, encKey, payload, domain.StageEncrypt)
	if err != nil {
		return nil, err
	}

	// 2. Initiate with the encrypted payload.
	initEnv, err := a.post(ctx, a.initiateURL, payoutRequest{Header: headerKey, EncData: encData})
	if err != nil {
		return nil, &domain.GatewayError{Stage: domain.StageInitiate, Description: err.Error()}
	}
	if initEnv.ResponseCode != "0" {
		return nil, &domain.GatewayError{Stage: domain.StageInitiate, Description: initEnv.Description}
	}
	var initBlob string
	if err := json.Unmarshal(initEnv.Data, &initBlob); err != nil || initBlob == "" {
		return nil, &domain.GatewayError{Stage: domain.StageInitiate, Description: "gateway returned no encData"}
	}

	// 3. Decrypt the initiate response to learn the gateway's txnId.
	var initRes initiateResult
	if err := a.decryptInto(ctx, headerKey, encKey, initBlob, &initRes); err != nil {
		return nil, err
	}
	if initRes.TxnID == "" {
		return nil, &domain.GatewayError{Stage: domain.StageDecrypt, Description: "gateway response missing txnId"}
	}

	// 4. Status check for the definitive outcome.
	return a.CheckStatus(ctx, conn, txn.RequestID, initRes.TxnID, "")
}

// CheckStatus encrypts a status query, sends it, and decrypts the reply. It
// never moves funds and is safe to call any number of times, including for
// reconciling transactions stranded by a crash mid-protocol.
func (a *Adapter) CheckStatus(ctx context.Context, conn *domain.ConnectorAccount, requestID, txnID, enquiryID string) (*domain.GatewayResult, error) {
	encKey, headerKey, err := requiredSecrets(conn)
	if err != nil {
		return nil, err
	}

	query := map[string]string{
		"requestId": requestID,
		"txnId":     txnID,
		"enquiryId": enquiryID,
	}
	encQuery, err := a.crypto(ctx, "encrypt", headerKey, encKey, query, domain.StageStatus)
	if err != nil {
		return nil, err
	}

	statusEnv, err := a.post(ctx, a.statusURL, payoutRequest{Header: headerKey, EncData: encQuery})
	if err != nil {
		return nil, &domain.GatewayError{Stage: domain.StageStatus, Description: err.Error()}
	}
	if statusEnv.ResponseCode != "0" {
		return nil, &domain.GatewayError{Stage: domain.StageStatus, Description: statusEnv.Description}
	}
	var statusBlob string
	if err := json.Unmarshal(statusEnv.Data, &statusBlob); err != nil || statusBlob == "" {
		return nil, &domain.GatewayError{Stage: domain.StageStatus, Description: "gateway returned no encData"}
	}

	var res statusResult
	if err := a.decryptInto(ctx, headerKey, encKey, statusBlob, &res); err != nil {
		return nil, err
	}
	if res.TxnStatus == "" {
		return nil, &domain.GatewayError{Stage: domain.StageDecrypt, Description: "gateway response missing txnStatus"}
	}

	return &domain.GatewayResult{
		TxnID:     txnID,
		Status:    res.TxnStatus,
		UTR:       res.UtrNo,
		EnquiryID: res.PayoutEnquiryID,
		TxnDate:   res.TxnDate,
	}, nil
}

// crypto calls the shared encrypt/decrypt endpoint and returns the opaque
// string payload from its data field.
func (a *Adapter) crypto(ctx context.Context, op, headerKey, encKey string, data interface{}, stage string) (string, error) {
	env, err := a.post(ctx, a.cryptoURL, cryptoRequest{Header: headerKey, Op: op, Data: data, Key: encKey})
	if err != nil {
		return "", &domain.GatewayError{Stage: stage, Description: err.Error()}
	}
	if env.ResponseCode != "0" {
		return "", &domain.GatewayError{Stage: stage, Description: env.Description}
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return "", &domain.GatewayError{Stage: stage, Description: "empty crypto response"}
	}
	var out string
	if err := json.Unmarshal(env.Data, &out); err == nil {
		if out == "" {
			return "", &domain.GatewayError{Stage: stage, Description: "empty crypto response"}
		}
		return out, nil
	}
	// Some deployments return the blob unquoted.
	return string(env.Data), nil
}

// decryptInto decrypts a gateway blob and unmarshals the inner data object.
func (a *Adapter) decryptInto(ctx context.Context, headerKey, encKey, blob string, out interface{}) error {
	env, err := a.post(ctx, a.cryptoURL, cryptoRequest{Header: headerKey, Op: "decrypt", Data: blob, Key: encKey})
	if err != nil {
		return &domain.GatewayError{Stage: domain.StageDecrypt, Description: err.Error()}
	}
	if env.ResponseCode != "0" {
		return &domain.GatewayError{Stage: domain.StageDecrypt, Description: env.Description}
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return &domain.GatewayError{Stage: domain.StageDecrypt, Description: "gateway returned null data"}
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return &domain.GatewayError{Stage: domain.StageDecrypt, Description: "malformed decrypted payload"}
	}
	return nil
}

func (a *Adapter) post(ctx context.Context, url string, body interface{}) (*envelope, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("malformed gateway response: %w", err)
	}
	return &env, nil
}

func requiredSecrets(conn *domain.ConnectorAccount) (encKey, headerKey string, err error) {
	encKey = conn.Secrets[secretEncryptionKey]
	if encKey == "" {
		return "", "", &domain.GatewayError{Stage: domain.StageEncrypt, Description: "encryption_key not found in connector secrets"}
	}
	headerKey = conn.Secrets[secretHeaderKey]
	if headerKey == "" {
		return "", "", &domain.GatewayError{Stage: domain.StageEncrypt, Description: "header_key not found in connector secrets"}
	}
	return encKey, headerKey, nil
}

// rupees renders an integer rupee amount as the two-decimal string the
// gateway expects, e.g. 2000 -> "2000.00".
func rupees(amount int64) string {
	return decimal.NewFromInt(amount).StringFixed(2)
}
