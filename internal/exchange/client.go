package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"pnldash/internal/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

var ErrNoKline = errors.New("no kline for date")

// PriceHistoryClient is the slice of the exchange API the PnL computation needs.
type PriceHistoryClient interface {
	DailyOpenClose(ctx context.Context, symbol string, date time.Time) (models.PricePoint, error)
	CurrentBalances(ctx context.Context) (models.BalanceSnapshot, error)
	SpotPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Factory builds per-user clients that share one rate limiter and spot-price cache,
// since the exchange limits by source IP rather than by key.
type Factory struct {
	BaseURL         string
	SettlementAsset string
	HTTP            *http.Client
	Limiter         *rate.Limiter
	Prices          *PriceCache
	Log             *logrus.Logger
}

func NewFactory(baseURL, settlement string, rps float64, cacheTTL time.Duration, log *logrus.Logger) *Factory {
	f := &Factory{
		BaseURL:         strings.TrimRight(baseURL, "/"),
		SettlementAsset: settlement,
		HTTP:            &http.Client{Timeout: 10 * time.Second},
		Limiter:         rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		Log:             log,
	}
	f.Prices = NewPriceCache(f.publicTicker, cacheTTL, log)
	return f
}

func (f *Factory) New(apiKey, secretKey string) *Client {
	return &Client{
		factory:   f,
		apiKey:    apiKey,
		secretKey: secretKey,
	}
}

func (f *Factory) publicTicker(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var out struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	q := url.Values{"symbol": {symbol}}
	if err := f.get(ctx, "/api/v3/ticker/price", q, "", &out); err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(out.Price)
}

func (f *Factory) get(ctx context.Context, path string, q url.Values, apiKey string, out interface{}) error {
	if err := f.Limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.BaseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	if apiKey != "" {
		req.Header.Set("X-MBX-APIKEY", apiKey)
	}
	resp, err := f.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.Unmarshal(body, out)
}

type Client struct {
	factory   *Factory
	apiKey    string
	secretKey string
}

// DailyOpenClose returns the 1d kline open/close for symbol on date (UTC).
func (c *Client) DailyOpenClose(ctx context.Context, symbol string, date time.Time) (models.PricePoint, error) {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	point := models.PricePoint{Symbol: symbol, Date: day}
	start := day.UnixMilli()
	q := url.Values{
		"symbol":    {symbol},
		"interval":  {"1d"},
		"startTime": {strconv.FormatInt(start, 10)},
		"endTime":   {strconv.FormatInt(start+24*time.Hour.Milliseconds()-1, 10)},
		"limit":     {"1"},
	}
	var klines [][]interface{}
	if err := c.factory.get(ctx, "/api/v3/klines", q, "", &klines); err != nil {
		return point, err
	}
	if len(klines) == 0 || len(klines[0]) < 5 {
		return point, ErrNoKline
	}
	open, err := klineDecimal(klines[0][1])
	if err != nil {
		return point, fmt.Errorf("open: %w", err)
	}
	closePrice, err := klineDecimal(klines[0][4])
	if err != nil {
		return point, fmt.Errorf("close: %w", err)
	}
	point.Open = decimal.NewNullDecimal(open)
	point.Close = decimal.NewNullDecimal(closePrice)
	return point, nil
}

func klineDecimal(v interface{}) (decimal.Decimal, error) {
	switch t := v.(type) {
	case string:
		return decimal.NewFromString(t)
	case float64:
		return decimal.NewFromFloat(t), nil
	}
	return decimal.Zero, fmt.Errorf("unexpected kline field %T", v)
}

// CurrentBalances values every non-zero spot balance in the settlement asset.
// Assets whose ticker lookup fails are left out of the snapshot.
func (c *Client) CurrentBalances(ctx context.Context) (models.BalanceSnapshot, error) {
	snap := models.BalanceSnapshot{CapturedAt: time.Now().UTC()}
	var account struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	q := url.Values{"timestamp": {strconv.FormatInt(time.Now().UnixMilli(), 10)}}
	q.Set("signature", c.sign(q.Encode()))
	if err := c.factory.get(ctx, "/api/v3/account", q, c.apiKey, &account); err != nil {
		return snap, err
	}

	for _, b := range account.Balances {
		free, _ := decimal.NewFromString(b.Free)
		locked, _ := decimal.NewFromString(b.Locked)
		total := free.Add(locked)
		if !total.IsPositive() {
			continue
		}
		value := total
		if b.Asset != c.factory.SettlementAsset {
			price, err := c.SpotPrice(ctx, b.Asset+c.factory.SettlementAsset)
			if err != nil {
				c.factory.Log.Warnf("no price for %s: %v", b.Asset, err)
				continue
			}
			value = total.Mul(price)
		}
		snap.Assets = append(snap.Assets, models.AssetBalance{Asset: b.Asset, Quantity: total, ValueUSD: value})
	}
	return snap, nil
}

func (c *Client) SpotPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return c.factory.Prices.GetPrice(ctx, symbol)
}

func (c *Client) sign(payload string) string {
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
