package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"donation-payments/config"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Client implements ports.RateSource against an HTTP exchange-rate provider.
// Rates come back as decimal strings so no float ever touches money math.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

// NewClient creates a new exchange-rate client.
func NewClient(cfg config.RatesConfig, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: timeout},
		log:     log.With().Str("component", "rates").Logger(),
	}
}

type rateResponse struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
	Rate  string `json:"rate"`
}

// Rate fetches the current exchange rate for the from/to pair.
func (c *Client) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	endpoint := fmt.Sprintf("%s/v1/rates?base=%s&quote=%s",
		c.baseURL, url.QueryEscape(from), url.QueryEscape(to))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("building rate request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetching rate %s/%s: %w", from, to, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("rate provider returned status %d for %s/%s", resp.StatusCode, from, to)
	}

	var body rateResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("decoding rate response: %w", err)
	}

	rate, err := decimal.NewFromString(body.Rate)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing rate %q: %w", body.Rate, err)
	}
	if rate.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("rate provider returned non-positive rate %s for %s/%s", rate, from, to)
	}

	c.log.Debug().
		Str("from", from).
		Str("to", to).
		Str("rate", rate.String()).
		Msg("fetched exchange rate")

	return rate, nil
}
