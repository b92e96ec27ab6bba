package yahoo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"PriceAlarm/internal/domain/models"
	drepo "PriceAlarm/internal/domain/repository"
	xhttp "PriceAlarm/pkg/http"

	"github.com/shopspring/decimal"
)

const quotePath = "/v7/finance/quote"

// Client implements a QuoteSource backed by the Yahoo Finance quote endpoint.
type Client struct {
	baseURL string
	http    *xhttp.Client
}

var _ drepo.QuoteSource = (*Client)(nil)

// New creates a Yahoo quote client. timeout bounds a whole batch request.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: xhttp.NewClient(
			xhttp.WithTimeout(timeout),
			xhttp.WithUserAgent("Mozilla/5.0 (compatible; pricealarm/1.0)"),
			xhttp.WithRetry(1, 200*time.Millisecond),
		),
	}
}

type quoteResponse struct {
	QuoteResponse struct {
		Result []quoteResult `json:"result"`
		Error  *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"quoteResponse"`
}

type quoteResult struct {
	Symbol               string           `json:"symbol"`
	RegularMarketPrice   *decimal.Decimal `json:"regularMarketPrice"`
	RegularMarketTime    int64            `json:"regularMarketTime"` // unix seconds
	RegularMarketDayHigh *decimal.Decimal `json:"regularMarketDayHigh"`
	RegularMarketDayLow  *decimal.Decimal `json:"regularMarketDayLow"`
}

// FetchQuotes asks for all symbols in one request. The result is keyed by the
// symbol as Yahoo echoes it back, uppercased. Symbols without a positive
// regularMarketPrice are left out.
func (c *Client) FetchQuotes(ctx context.Context, symbols []string) (map[string]models.Quote, error) {
	out := make(map[string]models.Quote, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}

	var resp quoteResponse
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:      xhttp.MethodGet,
		URL:         c.baseURL + quotePath,
		QueryParams: map[string][]string{"symbols": {strings.Join(symbols, ",")}},
		Headers:     map[string]string{"Accept": "application/json"},
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("yahoo quote: %w", err)
	}
	if e := resp.QuoteResponse.Error; e != nil {
		return nil, fmt.Errorf("yahoo quote: %s: %s", e.Code, e.Description)
	}

	for _, r := range resp.QuoteResponse.Result {
		if r.RegularMarketPrice == nil || !r.RegularMarketPrice.IsPositive() {
			continue
		}
		sym := strings.ToUpper(r.Symbol)
		q := models.Quote{
			Ticker:  sym,
			Price:   *r.RegularMarketPrice,
			DayHigh: r.RegularMarketDayHigh,
			DayLow:  r.RegularMarketDayLow,
		}
		if r.RegularMarketTime > 0 {
			q.Timestamp = time.Unix(r.RegularMarketTime, 0).UTC()
		}
		out[sym] = q
	}
	return out, nil
}
