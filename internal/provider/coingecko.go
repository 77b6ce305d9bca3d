package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"ml-feature-reconciler/internal/domain"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const coingeckoBaseURL = "https://api.coingecko.com/api/v3"

type CoinGeckoOptions struct {
	BaseURL           string
	APIKey            string
	RequestsPerMinute int
}

// CoinGeckoProvider fetches price and market chart data from the CoinGecko API.
type CoinGeckoProvider struct {
	client  *resty.Client
	tracer  trace.Tracer
	limiter *rate.Limiter
}

// NewCoinGeckoProvider creates a provider limited to RequestsPerMinute calls,
// allowing a burst of the same size.
func NewCoinGeckoProvider(tracer trace.Tracer, opts CoinGeckoOptions) *CoinGeckoProvider {
	if opts.BaseURL == "" {
		opts.BaseURL = coingeckoBaseURL
	}
	if opts.RequestsPerMinute <= 0 {
		opts.RequestsPerMinute = 8
	}

	client := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(30*time.Second).
		SetHeader("Accept", "application/json").
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)
	if opts.APIKey != "" {
		client.SetHeader("x-cg-demo-api-key", opts.APIKey)
	}

	return &CoinGeckoProvider{
		client:  client,
		tracer:  tracer,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), opts.RequestsPerMinute),
	}
}

// FetchPrices fetches current quotes for the given CoinGecko ids in a single
// call. ids maps CoinGecko id to symbol; the result is keyed by symbol.
func (p *CoinGeckoProvider) FetchPrices(ctx context.Context, ids map[string]string) (map[string]*domain.PriceSnapshot, error) {
	ctx, span := p.tracer.Start(ctx, "coingecko.fetch-prices")
	defer span.End()

	if len(ids) == 0 {
		return map[string]*domain.PriceSnapshot{}, nil
	}
	idList := make([]string, 0, len(ids))
	for id := range ids {
		idList = append(idList, id)
	}
	sort.Strings(idList)
	span.SetAttributes(attribute.Int("ids", len(idList)))

	// Response shape: {"bitcoin": {"usd": 97000, "usd_24h_vol": 4.5e10, "usd_24h_change": 2.34, "usd_market_cap": 1.9e12}, ...}
	var raw map[string]map[string]decimal.Decimal
	err := p.get(ctx, "/simple/price", map[string]string{
		"ids":                 strings.Join(idList, ","),
		"vs_currencies":       "usd",
		"include_24hr_vol":    "true",
		"include_24hr_change": "true",
		"include_market_cap":  "true",
	}, &raw)
	if err != nil {
		return nil, fmt.Errorf("fetch prices: %w", err)
	}

	now := time.Now().Unix()
	result := make(map[string]*domain.PriceSnapshot, len(raw))
	for cgID, data := range raw {
		symbol, ok := ids[cgID]
		if !ok {
			continue
		}
		result[symbol] = &domain.PriceSnapshot{
			Symbol:          symbol,
			PriceUSD:        data["usd"].InexactFloat64(),
			Volume24h:       data["usd_24h_vol"].InexactFloat64(),
			MarketCap:       data["usd_market_cap"].InexactFloat64(),
			Change24hPct:    data["usd_24h_change"].Round(6).InexactFloat64(),
			LastUpdatedUnix: now,
		}
	}
	return result, nil
}

// FetchMarketChart fetches market_chart data and constructs candles for the given intervals.
// days=1 gives ~5min granularity (for 5m, 15m, 1h candles).
// days=30 gives ~1h granularity (for 4h, 1d candles).
func (p *CoinGeckoProvider) FetchMarketChart(ctx context.Context, id, symbol string, days int, intervals []string) ([]*domain.Candle, error) {
	ctx, span := p.tracer.Start(ctx, "coingecko.fetch-market-chart")
	defer span.End()
	span.SetAttributes(attribute.String("symbol", symbol))

	if id == "" {
		return nil, fmt.Errorf("no coingecko id for %s", symbol)
	}

	var raw struct {
		Prices       [][]float64 `json:"prices"`
		TotalVolumes [][]float64 `json:"total_volumes"`
	}
	err := p.get(ctx, "/coins/"+id+"/market_chart", map[string]string{
		"vs_currency": "usd",
		"days":        strconv.Itoa(days),
	}, &raw)
	if err != nil {
		return nil, fmt.Errorf("fetch market chart for %s: %w", symbol, err)
	}

	var allCandles []*domain.Candle
	for _, interval := range intervals {
		candles := aggregateCandles(symbol, interval, raw.Prices, raw.TotalVolumes)
		allCandles = append(allCandles, candles...)
	}
	return allCandles, nil
}

func (p *CoinGeckoProvider) get(ctx context.Context, path string, params map[string]string, out any) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(path)
	if err != nil {
		return err
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("coingecko API error %d: %s", resp.StatusCode(), resp.String())
	}
	return json.Unmarshal(resp.Body(), out)
}
