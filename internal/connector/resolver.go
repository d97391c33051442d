package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/arthapay/payouts/internal/domain"
)

// Store looks up a merchant's primary active payout connector. The raw
// integration keys come back in whatever shape the onboarding flow stored
// them in; the resolver normalizes them.
type Store interface {
	GetActiveConnector(ctx context.Context, merchantID string) (*domain.ConnectorAccount, json.RawMessage, error)
}

// Resolver finds the merchant's active outbound connector configuration.
// Connectors are resolved fresh per request; nothing is cached.
type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns the merchant's primary active connector with its secrets in
// canonical flat form. Returns domain.ErrNoConnector if none is configured.
func (r *Resolver) Resolve(ctx context.Context, merchantID string) (*domain.ConnectorAccount, error) {
	acct, rawKeys, err := r.store.GetActiveConnector(ctx, merchantID)
	if err != nil {
		return nil, fmt.Errorf("connector lookup: %w", err)
	}
	if acct == nil {
		return nil, domain.ErrNoConnector
	}
	acct.Secrets = NormalizeSecrets(rawKeys)
	return acct, nil
}

// NormalizeSecrets flattens integration keys that may be stored either as a
// JSON object or as a JSON string containing an encoded object. Unrecognized
// shapes yield an empty set; downstream gateway calls then fail with a
// clearer "key not found" error.
func NormalizeSecrets(raw json.RawMessage) map[string]string {
	out := map[string]string{}
	if len(raw) == 0 {
		return out
	}

	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		// Maybe a JSON string wrapping an encoded object.
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			log.Printf("connector: unrecognized integration key shape, ignoring")
			return out
		}
		if err := json.Unmarshal([]byte(s), &obj); err != nil {
			log.Printf("connector: integration key string is not valid JSON, ignoring")
			return out
		}
	}

	for k, v := range obj {
		switch val := v.(type) {
		case string:
			out[k] = val
		case float64:
			out[k] = fmt.Sprintf("%v", val)
		case bool:
			out[k] = fmt.Sprintf("%v", val)
		}
	}
	return out
}
