package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"donation-payments/internal/core/ports/mocks"
	"donation-payments/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestCurrencyService_IsSupported(t *testing.T) {
	svc := NewCurrencyService(nil, time.Minute, logger.New("error", false))

	for _, code := range []string{"ILS", "USD", "EUR", "GBP"} {
		assert.True(t, svc.IsSupported(code), code)
	}
	for _, code := range []string{"XYZ", "usd", "BTC", ""} {
		assert.False(t, svc.IsSupported(code), code)
	}
}

func TestCurrencyService_ValidateAmount(t *testing.T) {
	svc := NewCurrencyService(nil, time.Minute, logger.New("error", false))

	tests := []struct {
		name    string
		amount  int64
		code    string
		wantErr bool
	}{
		{"ok", 10000, "USD", false},
		{"at minimum", 100, "ILS", false},
		{"below minimum", 99, "USD", true},
		{"above maximum", 10_000_001, "EUR", true},
		{"unknown currency", 100, "XYZ", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := svc.ValidateAmount(tc.amount, tc.code)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCurrencyService_Convert(t *testing.T) {
	ctrl := gomock.NewController(t)
	rates := mocks.NewMockRateSource(ctrl)
	svc := NewCurrencyService(rates, time.Minute, logger.New("error", false))

	rates.EXPECT().Rate(gomock.Any(), "USD", "ILS").Return(decimal.NewFromFloat(3.62), nil)

	got, err := svc.Convert(context.Background(), 10000, "USD", "ILS")
	require.NoError(t, err)
	assert.Equal(t, int64(36200), got)
}

func TestCurrencyService_Convert_RoundsHalfUp(t *testing.T) {
	ctrl := gomock.NewController(t)
	rates := mocks.NewMockRateSource(ctrl)
	svc := NewCurrencyService(rates, time.Minute, logger.New("error", false))

	rates.EXPECT().Rate(gomock.Any(), "USD", "ILS").Return(decimal.NewFromFloat(3.615), nil)

	// 101 * 3.615 = 365.115 -> 365
	got, err := svc.Convert(context.Background(), 101, "USD", "ILS")
	require.NoError(t, err)
	assert.Equal(t, int64(365), got)
}

func TestCurrencyService_Convert_SameCurrency(t *testing.T) {
	svc := NewCurrencyService(nil, time.Minute, logger.New("error", false))

	got, err := svc.Convert(context.Background(), 5000, "EUR", "EUR")
	require.NoError(t, err)
	assert.Equal(t, int64(5000), got)
}

func TestCurrencyService_Convert_CachesRate(t *testing.T) {
	ctrl := gomock.NewController(t)
	rates := mocks.NewMockRateSource(ctrl)
	svc := NewCurrencyService(rates, time.Minute, logger.New("error", false))

	rates.EXPECT().Rate(gomock.Any(), "USD", "ILS").Return(decimal.NewFromFloat(3.62), nil).Times(1)

	for i := 0; i < 5; i++ {
		_, err := svc.Convert(context.Background(), 10000, "USD", "ILS")
		require.NoError(t, err)
	}
}

func TestCurrencyService_Convert_RefreshesExpiredRate(t *testing.T) {
	ctrl := gomock.NewController(t)
	rates := mocks.NewMockRateSource(ctrl)
	svc := NewCurrencyService(rates, time.Minute, logger.New("error", false))

	now := time.Now()
	svc.now = func() time.Time { return now }

	gomock.InOrder(
		rates.EXPECT().Rate(gomock.Any(), "USD", "ILS").Return(decimal.NewFromFloat(3.60), nil),
		rates.EXPECT().Rate(gomock.Any(), "USD", "ILS").Return(decimal.NewFromFloat(3.70), nil),
	)

	got, err := svc.Convert(context.Background(), 100, "USD", "ILS")
	require.NoError(t, err)
	assert.Equal(t, int64(360), got)

	now = now.Add(2 * time.Minute)

	got, err = svc.Convert(context.Background(), 100, "USD", "ILS")
	require.NoError(t, err)
	assert.Equal(t, int64(370), got)
}

func TestCurrencyService_Convert_ServesStaleOnSourceFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	rates := mocks.NewMockRateSource(ctrl)
	svc := NewCurrencyService(rates, time.Minute, logger.New("error", false))

	now := time.Now()
	svc.now = func() time.Time { return now }

	gomock.InOrder(
		rates.EXPECT().Rate(gomock.Any(), "USD", "ILS").Return(decimal.NewFromFloat(3.60), nil),
		rates.EXPECT().Rate(gomock.Any(), "USD", "ILS").Return(decimal.Zero, errors.New("rate source down")),
	)

	_, err := svc.Convert(context.Background(), 100, "USD", "ILS")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)

	got, err := svc.Convert(context.Background(), 100, "USD", "ILS")
	require.NoError(t, err)
	assert.Equal(t, int64(360), got, "stale rate should be served when the source is down")
}

func TestCurrencyService_Convert_UnsupportedPair(t *testing.T) {
	svc := NewCurrencyService(nil, time.Minute, logger.New("error", false))

	_, err := svc.Convert(context.Background(), 100, "XYZ", "ILS")
	assert.Error(t, err)

	_, err = svc.Convert(context.Background(), 100, "USD", "XYZ")
	assert.Error(t, err)
}
