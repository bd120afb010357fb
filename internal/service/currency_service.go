package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"donation-payments/internal/core/ports"
	"donation-payments/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// currencyLimits holds the per-currency donation bounds in minor units.
type currencyLimits struct {
	Min int64
	Max int64
}

// supportedCurrencies is the platform's currency table. Donations outside
// these bounds are rejected at creation.
var supportedCurrencies = map[string]currencyLimits{
	"ILS": {Min: 100, Max: 50_000_000}, // 1.00 - 500,000.00
	"USD": {Min: 100, Max: 10_000_000},
	"EUR": {Min: 100, Max: 10_000_000},
	"GBP": {Min: 100, Max: 10_000_000},
}

type cachedRate struct {
	rate      decimal.Decimal
	fetchedAt time.Time
}

// CurrencyServiceImpl implements ports.CurrencyPolicy. Exchange rates come
// from an external source and are cached in-process with a TTL.
type CurrencyServiceImpl struct {
	rates    ports.RateSource
	cacheTTL time.Duration
	log      zerolog.Logger

	mu    sync.Mutex
	cache map[string]cachedRate

	now func() time.Time
}

// NewCurrencyService creates a new CurrencyServiceImpl.
func NewCurrencyService(rates ports.RateSource, cacheTTL time.Duration, log zerolog.Logger) *CurrencyServiceImpl {
	return &CurrencyServiceImpl{
		rates:    rates,
		cacheTTL: cacheTTL,
		log:      log,
		cache:    make(map[string]cachedRate),
		now:      time.Now,
	}
}

// IsSupported reports whether the platform accepts donations in code.
func (s *CurrencyServiceImpl) IsSupported(code string) bool {
	_, ok := supportedCurrencies[code]
	return ok
}

// ValidateAmount checks the per-currency bounds.
func (s *CurrencyServiceImpl) ValidateAmount(amountMinor int64, code string) error {
	limits, ok := supportedCurrencies[code]
	if !ok {
		return apperror.ErrUnsupportedCurrency(code)
	}
	if amountMinor < limits.Min {
		return apperror.Validation(fmt.Sprintf("Amount below minimum of %d minor units for %s", limits.Min, code))
	}
	if amountMinor > limits.Max {
		return apperror.Validation(fmt.Sprintf("Amount above maximum of %d minor units for %s", limits.Max, code))
	}
	return nil
}

// Convert translates an amount between supported currencies, rounding
// half-up to the minor unit.
func (s *CurrencyServiceImpl) Convert(ctx context.Context, amountMinor int64, from, to string) (int64, error) {
	if !s.IsSupported(from) {
		return 0, apperror.ErrUnsupportedCurrency(from)
	}
	if !s.IsSupported(to) {
		return 0, apperror.ErrUnsupportedCurrency(to)
	}
	if from == to {
		return amountMinor, nil
	}

	rate, err := s.rate(ctx, from, to)
	if err != nil {
		return 0, err
	}

	converted := decimal.NewFromInt(amountMinor).Mul(rate).Round(0)
	return converted.IntPart(), nil
}

// rate returns the cached pair rate, refreshing it when stale.
func (s *CurrencyServiceImpl) rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	key := from + "/" + to

	s.mu.Lock()
	entry, ok := s.cache[key]
	s.mu.Unlock()
	if ok && s.now().Sub(entry.fetchedAt) < s.cacheTTL {
		return entry.rate, nil
	}

	rate, err := s.rates.Rate(ctx, from, to)
	if err != nil {
		// Serve a stale rate over no rate when the source is down.
		if ok {
			s.log.Warn().Err(err).Str("pair", key).Msg("rate source unavailable, serving stale rate")
			return entry.rate, nil
		}
		return decimal.Zero, apperror.InternalError(fmt.Errorf("fetch rate %s: %w", key, err))
	}

	s.mu.Lock()
	s.cache[key] = cachedRate{rate: rate, fetchedAt: s.now()}
	s.mu.Unlock()

	return rate, nil
}
