// Package binance adapts Binance USD-M perpetual futures to the venue.Venue
// contract.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/scalper-core/internal/ids"
	"github.com/atlas-desktop/scalper-core/internal/venue"
	"github.com/atlas-desktop/scalper-core/pkg/domain"
)

// Config configures the Binance futures adapter.
type Config struct {
	APIKey    string
	APISecret string
	Testnet   bool
}

// RateLimiter is a simple token-bucket limiter matching Binance's
// published request weight budget.
type RateLimiter struct {
	mu         sync.Mutex
	tokens     int
	maxTokens  int
	refillRate time.Duration
	lastRefill time.Time
}

// NewRateLimiter constructs a token bucket of maxTokens refilled one at a
// time every refillRate.
func NewRateLimiter(maxTokens int, refillRate time.Duration) *RateLimiter {
	return &RateLimiter{tokens: maxTokens, maxTokens: maxTokens, refillRate: refillRate, lastRefill: time.Now()}
}

// Acquire blocks until a token is available.
func (rl *RateLimiter) Acquire() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if refills := int(now.Sub(rl.lastRefill) / rl.refillRate); refills > 0 {
		rl.tokens = min(rl.maxTokens, rl.tokens+refills)
		rl.lastRefill = now
	}
	for rl.tokens <= 0 {
		rl.mu.Unlock()
		time.Sleep(rl.refillRate)
		rl.mu.Lock()
		rl.tokens++
	}
	rl.tokens--
}

// Venue implements venue.Venue against Binance USD-M perpetual futures.
type Venue struct {
	logger      *zap.Logger
	apiKey      string
	apiSecret   string
	baseURL     string
	httpClient  *http.Client
	rateLimiter *RateLimiter
}

// New constructs a Binance futures Venue.
func New(logger *zap.Logger, cfg Config) *Venue {
	baseURL := "https://fapi.binance.com"
	if cfg.Testnet {
		baseURL = "https://testnet.binancefuture.com"
	}
	return &Venue{
		logger:      logger.Named("binance"),
		apiKey:      cfg.APIKey,
		apiSecret:   cfg.APISecret,
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		rateLimiter: NewRateLimiter(2400, time.Minute),
	}
}

// Name identifies the venue for logging.
func (v *Venue) Name() string { return "binance" }

type orderResponse struct {
	OrderID       int64  `json:"orderId"`
	Symbol        string `json:"symbol"`
	Status        string `json:"status"`
	AvgPrice      string `json:"avgPrice"`
	ExecutedQty   string `json:"executedQty"`
}

// SubmitOrder places a futures MARKET order and reports the fill.
func (v *Venue) SubmitOrder(ctx context.Context, req venue.OrderRequest) (venue.Fill, error) {
	v.rateLimiter.Acquire()

	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", sideToBinance(req.Side))
	params.Set("type", "MARKET")
	params.Set("quantity", req.Size.String())

	resp, err := v.signedRequest(ctx, http.MethodPost, "/fapi/v1/order", params)
	if err != nil {
		return venue.Fill{}, fmt.Errorf("binance submit order: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return venue.Fill{}, fmt.Errorf("binance read order response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return venue.Fill{}, fmt.Errorf("binance order failed with status %d: %s", resp.StatusCode, string(body))
	}

	var parsed orderResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return venue.Fill{}, fmt.Errorf("binance parse order response: %w", err)
	}

	price, _ := decimal.NewFromString(parsed.AvgPrice)
	qty, _ := decimal.NewFromString(parsed.ExecutedQty)

	return venue.Fill{
		OrderID:   ids.New("ord"),
		Symbol:    req.Symbol,
		Side:      req.Side,
		Price:     price,
		Size:      qty,
		Timestamp: time.Now(),
	}, nil
}

// ClosePosition submits a reduce-only MARKET order on the opposite side.
func (v *Venue) ClosePosition(ctx context.Context, symbol string, side domain.OrderSide, size decimal.Decimal) (venue.Fill, error) {
	closingSide := domain.SideSell
	if side == domain.SideSell {
		closingSide = domain.SideBuy
	}

	v.rateLimiter.Acquire()

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", sideToBinance(closingSide))
	params.Set("type", "MARKET")
	params.Set("quantity", size.String())
	params.Set("reduceOnly", "true")

	resp, err := v.signedRequest(ctx, http.MethodPost, "/fapi/v1/order", params)
	if err != nil {
		return venue.Fill{}, fmt.Errorf("binance close position: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return venue.Fill{}, fmt.Errorf("binance read close response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return venue.Fill{}, fmt.Errorf("binance close failed with status %d: %s", resp.StatusCode, string(body))
	}

	var parsed orderResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return venue.Fill{}, fmt.Errorf("binance parse close response: %w", err)
	}

	price, _ := decimal.NewFromString(parsed.AvgPrice)
	qty, _ := decimal.NewFromString(parsed.ExecutedQty)

	return venue.Fill{
		OrderID:   ids.New("ord"),
		Symbol:    symbol,
		Side:      closingSide,
		Price:     price,
		Size:      qty,
		Timestamp: time.Now(),
	}, nil
}

// MarkPrice fetches the current futures mark price.
func (v *Venue) MarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	v.rateLimiter.Acquire()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/fapi/v1/premiumIndex?symbol=%s", v.baseURL, symbol), nil)
	if err != nil {
		return decimal.Zero, err
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Zero, err
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("binance mark price failed: %s", string(body))
	}

	var parsed struct {
		MarkPrice string `json:"markPrice"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(parsed.MarkPrice)
}

// Balance returns the USDT-margined futures wallet balance.
func (v *Venue) Balance(ctx context.Context) (decimal.Decimal, error) {
	v.rateLimiter.Acquire()

	resp, err := v.signedRequest(ctx, http.MethodGet, "/fapi/v2/balance", url.Values{})
	if err != nil {
		return decimal.Zero, fmt.Errorf("binance balance: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Zero, err
	}
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("binance balance failed: %s", string(body))
	}

	var balances []struct {
		Asset   string `json:"asset"`
		Balance string `json:"balance"`
	}
	if err := json.Unmarshal(body, &balances); err != nil {
		return decimal.Zero, err
	}
	for _, b := range balances {
		if b.Asset == "USDT" {
			return decimal.NewFromString(b.Balance)
		}
	}
	return decimal.Zero, nil
}

// FetchBars fetches recent klines and converts them to a BarSeries.
func (v *Venue) FetchBars(ctx context.Context, symbol, timeframe string, limit int) (domain.BarSeries, error) {
	v.rateLimiter.Acquire()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/fapi/v1/klines?symbol=%s&interval=%s&limit=%d", v.baseURL, symbol, timeframe, limit), nil)
	if err != nil {
		return domain.BarSeries{}, err
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return domain.BarSeries{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.BarSeries{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return domain.BarSeries{}, fmt.Errorf("binance klines failed: %s", string(body))
	}

	var raw [][]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return domain.BarSeries{}, err
	}

	series := domain.BarSeries{Symbol: symbol, Timeframe: timeframe}
	for _, k := range raw {
		if len(k) < 6 {
			continue
		}
		openTime, _ := k[0].(float64)
		open, _ := decimal.NewFromString(k[1].(string))
		high, _ := decimal.NewFromString(k[2].(string))
		low, _ := decimal.NewFromString(k[3].(string))
		close, _ := decimal.NewFromString(k[4].(string))
		vol, _ := decimal.NewFromString(k[5].(string))
		series.Bars = append(series.Bars, domain.Candle{
			Timestamp: time.UnixMilli(int64(openTime)),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     close,
			Volume:    vol,
		})
	}
	return series, nil
}

func (v *Venue) signedRequest(ctx context.Context, method, endpoint string, params url.Values) (*http.Response, error) {
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	queryString := params.Encode()
	params.Set("signature", v.sign(queryString))

	reqURL := v.baseURL + endpoint + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", v.apiKey)
	return v.httpClient.Do(req)
}

func (v *Venue) sign(data string) string {
	h := hmac.New(sha256.New, []byte(v.apiSecret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

func sideToBinance(side domain.OrderSide) string {
	if side == domain.SideSell {
		return "SELL"
	}
	return "BUY"
}
