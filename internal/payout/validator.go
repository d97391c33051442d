package payout

import (
	"context"
	"fmt"
	"math"
	"regexp"

	"github.com/arthapay/payouts/internal/domain"
)

// Validation failure messages. These are stable strings clients match on;
// do not reword them.
const (
	MsgBodyRequired          = "Request body is required"
	MsgAmountRequired        = "Amount is required"
	MsgAmountBelowMinimum    = "Amount must be a number and greater than or equal to 1000"
	MsgRequestIDRequired     = "RequestId is required"
	MsgRequestIDExists       = "RequestId already exists"
	MsgAccountNumberRequired = "Beneficiary account number is required"
	MsgIFSCRequired          = "Beneficiary IFSC code is required"
	MsgIFSCInvalid           = "Invalid IFSC code"
	MsgBankNameRequired      = "Beneficiary bank name is required"
	MsgBeneficiaryRequired   = "Beneficiary name is required"
	MsgPaymentModeRequired   = "Payment mode is required"
)

var ifscPattern = regexp.MustCompile(`^[A-Z]{4}0[A-Z0-9]{6}$`)

// validateRequest runs the fixed-order field checks. The first failure is
// terminal. On success it returns the parsed amount.
func validateRequest(ctx context.Context, store Store, req *domain.PayoutRequest) (int64, error) {
	if req == nil {
		return 0, &domain.ValidationError{Msg: MsgBodyRequired}
	}
	if req.Amount == nil {
		return 0, &domain.ValidationError{Msg: MsgAmountRequired}
	}
	amount, ok := numericAmount(req.Amount)
	if !ok || amount < domain.MinPayoutAmount {
		return 0, &domain.ValidationError{Msg: MsgAmountBelowMinimum}
	}
	if req.RequestID == "" {
		return 0, &domain.ValidationError{Msg: MsgRequestIDRequired}
	}
	exists, err := store.RequestIDExists(ctx, req.RequestID)
	if err != nil {
		return 0, fmt.Errorf("requestId lookup: %w", err)
	}
	if exists {
		return 0, &domain.ValidationError{Msg: MsgRequestIDExists}
	}
	if req.AccountNumber == "" {
		return 0, &domain.ValidationError{Msg: MsgAccountNumberRequired}
	}
	if req.IFSC == "" {
		return 0, &domain.ValidationError{Msg: MsgIFSCRequired}
	}
	if !ifscPattern.MatchString(req.IFSC) {
		return 0, &domain.ValidationError{Msg: MsgIFSCInvalid}
	}
	if req.BankName == "" {
		return 0, &domain.ValidationError{Msg: MsgBankNameRequired}
	}
	if req.BeneficiaryName == "" {
		return 0, &domain.ValidationError{Msg: MsgBeneficiaryRequired}
	}
	if req.PaymentMode == "" {
		return 0, &domain.ValidationError{Msg: MsgPaymentModeRequired}
	}
	return amount, nil
}

// numericAmount accepts the JSON number shapes a decoded body can carry.
// Fractional values, strings and anything else are not valid amounts.
func numericAmount(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}
