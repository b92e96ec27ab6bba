package usecase

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"PriceAlarm/internal/domain/models"
	drepo "PriceAlarm/internal/domain/repository"
	applogger "PriceAlarm/pkg/logger"
)

// QuoteFetcher turns a cycle's alarms into one batched quote request.
type QuoteFetcher struct {
	source  drepo.QuoteSource
	suffix  string
	metrics drepo.Metrics
	log     *applogger.Logger
}

func NewQuoteFetcher(source drepo.QuoteSource, marketSuffix string, metrics drepo.Metrics, l *applogger.Logger) *QuoteFetcher {
	return &QuoteFetcher{
		source:  source,
		suffix:  strings.ToUpper(marketSuffix),
		metrics: metrics,
		log:     l,
	}
}

// Fetch returns quotes keyed by store-local ticker. Tickers the source could
// not price are absent. An empty alarm set makes no request.
func (f *QuoteFetcher) Fetch(ctx context.Context, alarms []models.Alarm) (map[string]models.Quote, error) {
	prices := make(map[string]models.Quote)
	if len(alarms) == 0 {
		return prices, nil
	}

	// several local spellings can share a wire symbol (rows stored with the
	// suffix before it was rejected); each gets the quote
	wireToLocal := make(map[string][]string, len(alarms))
	symbols := make([]string, 0, len(alarms))
	for _, a := range alarms {
		local := models.NormalizeTicker(a.Ticker)
		wire := f.WireSymbol(local)
		locals, seen := wireToLocal[wire]
		if !seen {
			symbols = append(symbols, wire)
		}
		if !slices.Contains(locals, local) {
			wireToLocal[wire] = append(locals, local)
		}
	}

	start := time.Now()
	quotes, err := f.source.FetchQuotes(ctx, symbols)
	f.metrics.RecordLatency("quote_fetch", time.Since(start).Seconds())
	if err != nil {
		f.metrics.RecordError("quote_fetch")
		return nil, fmt.Errorf("fetch quotes for %d symbols: %w", len(symbols), err)
	}

	for wire, q := range quotes {
		locals, ok := wireToLocal[strings.ToUpper(wire)]
		if !ok {
			f.log.Debug("ignoring unrequested quote", applogger.String("symbol", wire))
			continue
		}
		if !q.Price.IsPositive() {
			continue
		}
		for _, local := range locals {
			q.Ticker = local
			prices[local] = q
			f.metrics.RecordLastPrice(local, q.Price.InexactFloat64())
		}
	}

	f.log.Debug("quotes fetched",
		applogger.Int("requested", len(symbols)),
		applogger.Int("priced", len(prices)),
	)
	return prices, nil
}

// WireSymbol maps a store-local ticker to the quote source's symbol.
func (f *QuoteFetcher) WireSymbol(ticker string) string {
	if f.suffix == "" || strings.HasSuffix(ticker, f.suffix) {
		return ticker
	}
	return ticker + f.suffix
}
