package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/arthapay/payouts/internal/domain"
)

// UserStore is the read-only lookup surface the verifier needs.
type UserStore interface {
	GetMerchantUser(ctx context.Context, userID string) (*domain.MerchantUser, error)
	GetMerchant(ctx context.Context, merchantID string) (*domain.Merchant, error)
}

// Claims are the payload of an issued bearer token. Secret is the API secret
// re-checked against the stored bcrypt hash on every request.
type Claims struct {
	Secret string `json:"secret"`
	jwt.RegisteredClaims
}

// Verifier validates bearer credentials and resolves them to a merchant.
type Verifier struct {
	signingSecret []byte
	store         UserStore
}

func NewVerifier(signingSecret string, store UserStore) *Verifier {
	return &Verifier{signingSecret: []byte(signingSecret), store: store}
}

// Verify decodes the bearer token, resolves the subject to a merchant user and
// merchant profile, and re-validates the embedded API secret. Read-only.
func (v *Verifier) Verify(ctx context.Context, token string) (*domain.MerchantUser, *domain.Merchant, error) {
	if token == "" {
		return nil, nil, &domain.AuthError{Reason: domain.AuthInvalidToken, Msg: "Missing bearer token"}
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.signingSecret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, nil, &domain.AuthError{Reason: domain.AuthExpiredToken, Msg: "Token has expired"}
		}
		return nil, nil, &domain.AuthError{Reason: domain.AuthInvalidToken, Msg: "Invalid token"}
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, nil, &domain.AuthError{Reason: domain.AuthInvalidToken, Msg: "Invalid token"}
	}

	user, err := v.store.GetMerchantUser(ctx, claims.Subject)
	if err != nil {
		return nil, nil, fmt.Errorf("merchant user lookup: %w", err)
	}
	if user == nil {
		return nil, nil, &domain.AuthError{Reason: domain.AuthNotFound, Msg: "User not found"}
	}
	merchant, err := v.store.GetMerchant(ctx, user.MerchantID)
	if err != nil {
		return nil, nil, fmt.Errorf("merchant lookup: %w", err)
	}
	if merchant == nil {
		return nil, nil, &domain.AuthError{Reason: domain.AuthNotFound, Msg: "Merchant not found"}
	}

	if bcrypt.CompareHashAndPassword([]byte(user.SecretHash), []byte(claims.Secret)) != nil {
		return nil, nil, &domain.AuthError{Reason: domain.AuthSecretMismatch, Msg: "Invalid API secret"}
	}

	return user, merchant, nil
}
