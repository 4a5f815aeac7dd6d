package pricecheck

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// DefaultAPIEndpoint is the CoinGecko-compatible base URL
const DefaultAPIEndpoint = "https://api.coingecko.com/api/v3"

// HTTPSource prices a pair from a simple/price style API by quoting both
// tokens in USD. Requests are throttled so a tick with many jobs does not
// exhaust the API quota.
type HTTPSource struct {
	endpoint   string
	priceIDs   map[string]string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewHTTPSource creates a source. priceIDs maps token symbols to API ids
// (for example "WETH" -> "ethereum"); requestsPerMinute <= 0 disables throttling.
func NewHTTPSource(endpoint string, priceIDs map[string]string, requestsPerMinute int) *HTTPSource {
	if endpoint == "" {
		endpoint = DefaultAPIEndpoint
	}
	ids := make(map[string]string, len(priceIDs))
	for symbol, id := range priceIDs {
		ids[strings.ToUpper(symbol)] = id
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if requestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), 1)
	}

	return &HTTPSource{
		endpoint:   strings.TrimRight(endpoint, "/"),
		priceIDs:   ids,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    limiter,
	}
}

// GetPrice returns usd(tokenIn) / usd(tokenOut)
func (s *HTTPSource) GetPrice(ctx context.Context, tokenIn, tokenOut string) (decimal.Decimal, error) {
	inID, ok := s.priceIDs[strings.ToUpper(tokenIn)]
	if !ok {
		return decimal.Zero, errors.Newf("no price id configured for token %s", tokenIn)
	}
	outID, ok := s.priceIDs[strings.ToUpper(tokenOut)]
	if !ok {
		return decimal.Zero, errors.Newf("no price id configured for token %s", tokenOut)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return decimal.Zero, errors.Wrap(err, "price api rate limit wait")
	}

	quotes, err := s.fetchUSD(ctx, inID, outID)
	if err != nil {
		return decimal.Zero, err
	}

	inUSD, ok := quotes[inID]
	if !ok || !inUSD.IsPositive() {
		return decimal.Zero, errors.Newf("USD price not found for %s", inID)
	}
	outUSD, ok := quotes[outID]
	if !ok || !outUSD.IsPositive() {
		return decimal.Zero, errors.Newf("USD price not found for %s", outID)
	}

	return inUSD.Div(outUSD), nil
}

func (s *HTTPSource) fetchUSD(ctx context.Context, ids ...string) (map[string]decimal.Decimal, error) {
	query := url.Values{}
	query.Set("ids", strings.Join(ids, ","))
	query.Set("vs_currencies", "usd")
	reqURL := fmt.Sprintf("%s/simple/price?%s", s.endpoint, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch token price")
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("API request failed with status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response body")
	}

	var result map[string]map[string]decimal.Decimal
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, errors.Wrap(err, "failed to parse JSON response")
	}

	out := make(map[string]decimal.Decimal, len(result))
	for id, quote := range result {
		if usd, ok := quote["usd"]; ok {
			out[id] = usd
		}
	}
	return out, nil
}
