package service

import (
	"fmt"
	"math"
	"strings"

	"token-ledger/pkg/apperror"

	"github.com/shopspring/decimal"
)

var maxTokens = decimal.NewFromInt(math.MaxInt64)

// Pricing converts provider amounts (currency minor units) into tokens.
type Pricing struct {
	tokensPerUnit decimal.Decimal
	currency      string
	minorUnits    int32
}

// NewPricing parses tokensPerUnit, the number of tokens one major currency
// unit buys. minorUnits is the currency exponent (2 for cents).
func NewPricing(tokensPerUnit, currency string, minorUnits int32) (*Pricing, error) {
	rate, err := decimal.NewFromString(tokensPerUnit)
	if err != nil {
		return nil, fmt.Errorf("parse tokens_per_unit %q: %w", tokensPerUnit, err)
	}
	if !rate.IsPositive() {
		return nil, fmt.Errorf("tokens_per_unit must be positive, got %s", rate)
	}
	if minorUnits < 0 {
		return nil, fmt.Errorf("minor_units must not be negative, got %d", minorUnits)
	}
	return &Pricing{
		tokensPerUnit: rate,
		currency:      strings.ToLower(currency),
		minorUnits:    minorUnits,
	}, nil
}

// TokensFor returns the whole tokens bought by amountMinor of currency,
// rounding down. An empty currency is taken to be the configured one.
func (p *Pricing) TokensFor(amountMinor int64, currency string) (int64, error) {
	if currency != "" && !strings.EqualFold(currency, p.currency) {
		return 0, apperror.Validation(fmt.Sprintf("unsupported currency %q", currency))
	}
	if amountMinor <= 0 {
		return 0, apperror.ErrInvalidAmount()
	}

	tokens := decimal.New(amountMinor, -p.minorUnits).Mul(p.tokensPerUnit).Floor()
	if tokens.GreaterThan(maxTokens) {
		return 0, apperror.ErrAmountOverflow()
	}
	if !tokens.IsPositive() {
		return 0, apperror.ErrInvalidAmount()
	}
	return tokens.IntPart(), nil
}
