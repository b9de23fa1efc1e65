// Package rates polls market tickers and caches pair rates for quoting.
package rates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tidepool-exchange/tidepool/pkg/logging"
)

// DefaultPollInterval is how often the ticker source is queried.
const DefaultPollInterval = time.Minute

var ErrRateUnavailable = errors.New("no rate cached for pair")

// Source fetches the current exchange rate of one pair.
type Source interface {
	FetchRate(ctx context.Context, base, quote string) (decimal.Decimal, error)
}

// HTTPSource queries a ticker endpoint of the form
// {BaseURL}/markets/{base}-{quote}/ticker returning {"lastTradeRate": "..."}.
type HTTPSource struct {
	BaseURL    string
	httpClient *http.Client
}

// NewHTTPSource creates a ticker source for the given API base URL.
func NewHTTPSource(baseURL string) *HTTPSource {
	return &HTTPSource{
		BaseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// FetchRate queries the ticker of one market.
func (s *HTTPSource) FetchRate(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	url := fmt.Sprintf("%s/markets/%s-%s/ticker", s.BaseURL, base, quote)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return decimal.Zero, err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetch ticker %s/%s: %w", base, quote, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("fetch ticker %s/%s: status %d", base, quote, resp.StatusCode)
	}

	var ticker struct {
		LastTradeRate decimal.Decimal `json:"lastTradeRate"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ticker); err != nil {
		return decimal.Zero, fmt.Errorf("decode ticker %s/%s: %w", base, quote, err)
	}

	return ticker.LastTradeRate, nil
}

// Provider polls the source for every configured pair and caches the latest
// rate. A failed poll keeps the previous value.
type Provider struct {
	source   Source
	pairs    []string
	interval time.Duration
	log      *logging.Logger

	mu    sync.RWMutex
	rates map[string]decimal.Decimal

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewProvider creates a rate provider for the given pair ids ("BTC/L-BTC").
func NewProvider(logger *logging.Logger, source Source, pairs []string, interval time.Duration) *Provider {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Provider{
		source:   source,
		pairs:    pairs,
		interval: interval,
		log:      logger.Component("rates"),
		rates:    make(map[string]decimal.Decimal),
	}
}

// Start polls once immediately and then on every interval tick.
func (p *Provider) Start() {
	if p.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		p.poll(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.poll(ctx)
			}
		}
	}()
}

// Stop halts polling.
func (p *Provider) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.cancel = nil
	p.wg.Wait()
}

func (p *Provider) poll(ctx context.Context) {
	for _, pair := range p.pairs {
		base, quote, err := splitPair(pair)
		if err != nil {
			p.log.Error("invalid pair", "pair", pair, "error", err)
			continue
		}

		rate, err := p.source.FetchRate(ctx, base, quote)
		if err != nil {
			p.log.Warn("rate fetch failed", "pair", pair, "error", err)
			continue
		}

		p.mu.Lock()
		p.rates[pair] = rate
		p.mu.Unlock()
	}
}

// Rate returns the cached rate of a pair.
func (p *Provider) Rate(pair string) (decimal.Decimal, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	rate, ok := p.rates[pair]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrRateUnavailable, pair)
	}
	return rate, nil
}

// ConvertAmount converts an amount of the base asset to the quote asset at
// the given rate, after deducting feePercent. Minor units in, minor units out,
// rounded down.
func ConvertAmount(amount uint64, rate decimal.Decimal, feePercent decimal.Decimal) uint64 {
	gross := decimal.NewFromUint64(amount).Mul(rate)
	fee := gross.Mul(feePercent).Div(decimal.NewFromInt(100))
	net := gross.Sub(fee)
	if net.IsNegative() {
		return 0
	}
	return uint64(net.IntPart())
}

func splitPair(pair string) (string, string, error) {
	for i := range pair {
		if pair[i] == '/' {
			if i == 0 || i == len(pair)-1 {
				break
			}
			return pair[:i], pair[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("invalid pair id %q", pair)
}
