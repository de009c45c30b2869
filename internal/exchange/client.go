package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"kraken-trader/internal/config"
)

// Client 负责与 Kraken 交互并实现重试机制。
type Client struct {
	cfg      config.ExchangeConfig
	logger   *zap.Logger
	exchange *ccxt.Kraken

	marketsMu     sync.Mutex
	marketsLoaded bool
}

// NewClient 构造 Kraken 现货客户端。
func NewClient(cfg config.ExchangeConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
	}

	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}

	ex := ccxt.NewKraken(userConfig)
	if cfg.UseSandbox {
		ex.SetSandboxMode(true)
	}

	return &Client{
		cfg:      cfg,
		logger:   logger,
		exchange: ex,
	}, nil
}

// Raw 返回底层 ccxt 客户端。
func (c *Client) Raw() *ccxt.Kraken {
	return c.exchange
}

// Balances 获取账户各币种可用余额。
func (c *Client) Balances(ctx context.Context) (map[string]float64, error) {
	var raw ccxt.Balances

	err := c.callWithRetry(ctx, "fetch_balance", func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}
		balances, err := c.exchange.FetchBalance()
		if err != nil {
			return err
		}
		raw = balances
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make(map[string]float64)
	if raw.Free != nil {
		for code, v := range raw.Free {
			if v != nil && *v > 0 {
				out[code] = *v
			}
		}
	}
	if raw.Total != nil {
		for code, v := range raw.Total {
			if v == nil {
				continue
			}
			if _, ok := out[code]; !ok && *v > 0 {
				out[code] = *v
			}
		}
	}
	return out, nil
}

// Ticker 获取行情快照。
func (c *Client) Ticker(ctx context.Context, pair string) (Ticker, error) {
	var raw ccxt.Ticker

	err := c.callWithRetry(ctx, "fetch_ticker", func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}
		ticker, err := c.exchange.FetchTicker(pair)
		if err != nil {
			return err
		}
		raw = ticker
		return nil
	})
	if err != nil {
		return Ticker{}, err
	}

	return Ticker{
		Pair:    pair,
		Price:   firstPositive(derefFloat(raw.Last), derefFloat(raw.Close)),
		Bid:     derefFloat(raw.Bid),
		Ask:     derefFloat(raw.Ask),
		High24h: derefFloat(raw.High),
		Low24h:  derefFloat(raw.Low),
	}, nil
}

// OrderBook 获取订单簿快照。
func (c *Client) OrderBook(ctx context.Context, pair string, depth int) (OrderBook, error) {
	if depth <= 0 {
		depth = 25
	}

	var raw ccxt.OrderBook
	err := c.callWithRetry(ctx, "fetch_order_book", func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}
		orderBook, err := c.exchange.FetchOrderBook(
			pair,
			ccxt.WithFetchOrderBookLimit(int64(depth)),
		)
		if err != nil {
			return err
		}
		raw = orderBook
		return nil
	})
	if err != nil {
		return OrderBook{}, err
	}

	return convertOrderBook(pair, raw), nil
}

// Candles 获取指定周期的K线数据。
func (c *Client) Candles(ctx context.Context, pair string, timeframe string, limit int) ([]Candle, error) {
	if limit <= 0 {
		limit = 1
	}

	var raw []ccxt.OHLCV
	err := c.callWithRetry(ctx, fmt.Sprintf("fetch_ohlcv_%s", timeframe), func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}
		result, err := c.exchange.FetchOHLCV(
			pair,
			ccxt.WithFetchOHLCVTimeframe(timeframe),
			ccxt.WithFetchOHLCVLimit(int64(limit)),
		)
		if err != nil {
			return err
		}
		raw = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	candles := make([]Candle, 0, len(raw))
	for _, item := range raw {
		candles = append(candles, Candle{
			Timestamp: time.UnixMilli(item.Timestamp).UTC(),
			Open:      item.Open,
			High:      item.High,
			Low:       item.Low,
			Close:     item.Close,
			Volume:    item.Volume,
		})
	}
	return candles, nil
}

// MarketBuy 以计价货币金额市价买入。Kraken 现货下单量以基础货币
// 计，因此先按最新价换算。
func (c *Client) MarketBuy(ctx context.Context, pair string, quoteAmount float64) (OrderAck, error) {
	ticker, err := c.Ticker(ctx, pair)
	if err != nil {
		return OrderAck{}, err
	}
	if ticker.Price <= 0 {
		return OrderAck{}, fmt.Errorf("exchange: %s 无有效最新价，无法换算买入量", pair)
	}

	baseAmount := quoteAmount / ticker.Price
	return c.placeOrder(ctx, "market_buy", func() (ccxt.Order, error) {
		return c.exchange.CreateMarketOrder(pair, "buy", baseAmount)
	})
}

// MarketSell 以基础货币数量市价卖出。
func (c *Client) MarketSell(ctx context.Context, pair string, baseAmount float64) (OrderAck, error) {
	return c.placeOrder(ctx, "market_sell", func() (ccxt.Order, error) {
		return c.exchange.CreateMarketOrder(pair, "sell", baseAmount)
	})
}

// LimitBuy 以计价货币金额在指定价位限价买入。
func (c *Client) LimitBuy(ctx context.Context, pair string, quoteAmount float64, price float64) (OrderAck, error) {
	if price <= 0 {
		return OrderAck{}, fmt.Errorf("exchange: 限价买入价格无效: %.8f", price)
	}
	baseAmount := quoteAmount / price
	return c.placeOrder(ctx, "limit_buy", func() (ccxt.Order, error) {
		return c.exchange.CreateLimitOrder(pair, "buy", baseAmount, price)
	})
}

// LimitSell 以基础货币数量在指定价位限价卖出。
func (c *Client) LimitSell(ctx context.Context, pair string, baseAmount float64, price float64) (OrderAck, error) {
	if price <= 0 {
		return OrderAck{}, fmt.Errorf("exchange: 限价卖出价格无效: %.8f", price)
	}
	return c.placeOrder(ctx, "limit_sell", func() (ccxt.Order, error) {
		return c.exchange.CreateLimitOrder(pair, "sell", baseAmount, price)
	})
}

// CancelOrder 撤销挂单。
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	return c.callWithRetry(ctx, "cancel_order", func() error {
		_, err := c.exchange.CancelOrder(orderID)
		return err
	})
}

// QueryOrder 查询订单状态。交易所不支持时返回 ErrQueryUnsupported。
func (c *Client) QueryOrder(ctx context.Context, orderID string) (OrderStatus, error) {
	var raw ccxt.Order
	err := c.callWithRetry(ctx, "fetch_order", func() error {
		order, err := c.exchange.FetchOrder(orderID)
		if err != nil {
			return err
		}
		raw = order
		return nil
	})
	if err != nil {
		var ccxtErr *ccxt.Error
		if errors.As(err, &ccxtErr) && ccxtErr.Type == ccxt.NotSupportedErrType {
			return OrderStatus{}, ErrQueryUnsupported
		}
		return OrderStatus{}, err
	}

	return normalizeStatus(raw), nil
}

func (c *Client) placeOrder(ctx context.Context, operation string, place func() (ccxt.Order, error)) (OrderAck, error) {
	var raw ccxt.Order
	err := c.callWithRetry(ctx, operation, func() error {
		if err := c.ensureMarketsLoaded(ctx); err != nil {
			return err
		}
		order, err := place()
		if err != nil {
			return err
		}
		raw = order
		return nil
	})
	if err != nil {
		return OrderAck{}, err
	}
	return normalizeAck(raw), nil
}

func (c *Client) ensureMarketsLoaded(ctx context.Context) error {
	if c.marketsLoaded {
		return nil
	}

	c.marketsMu.Lock()
	defer c.marketsMu.Unlock()

	if c.marketsLoaded {
		return nil
	}

	loadErr := c.callWithRetry(ctx, "load_markets", func() error {
		_, err := c.exchange.LoadMarkets()
		return err
	})
	if loadErr != nil {
		return loadErr
	}

	c.marketsLoaded = true
	c.logger.Info("已完成市场元数据加载", zap.String("exchange", c.cfg.Name))
	return nil
}

func (c *Client) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	attempt := 0
	delay := c.cfg.Retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := c.cfg.Retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		attempt++
		start := time.Now()
		err := fn()
		duration := time.Since(start)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("交易所调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", duration),
				)
			}
			return nil
		}

		normalizedErr, retry := c.classifyError(err)

		if errors.Is(normalizedErr, ErrMaintenance) {
			c.logger.Warn("交易所维护中",
				zap.String("operation", operation),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		if !retry || attempt >= c.cfg.Retry.MaxAttempts {
			c.logger.Error("交易所调用失败",
				zap.String("operation", operation),
				zap.Int("attempts", attempt),
				zap.Duration("latency", duration),
				zap.Error(normalizedErr),
			)
			return normalizedErr
		}

		wait := delay
		if wait > maxDelay {
			wait = maxDelay
		}

		c.logger.Warn("交易所调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(normalizedErr),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func (c *Client) classifyError(err error) (error, bool) {
	if err == nil {
		return nil, false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err, false
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.NetworkErrorErrType,
			ccxt.RequestTimeoutErrType,
			ccxt.ExchangeNotAvailableErrType,
			ccxt.RateLimitExceededErrType,
			ccxt.DDoSProtectionErrType,
			ccxt.BadResponseErrType,
			ccxt.NullResponseErrType:
			return err, true
		case ccxt.OnMaintenanceErrType:
			message := strings.TrimSpace(ccxtErr.Message)
			if message == "" {
				message = "exchange under maintenance"
			}
			return fmt.Errorf("%w: %s", ErrMaintenance, message), false
		default:
			return err, false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return err, true
	}

	return err, false
}

func convertOrderBook(pair string, ob ccxt.OrderBook) OrderBook {
	var ts time.Time
	if ob.Timestamp != nil {
		ts = time.UnixMilli(*ob.Timestamp).UTC()
	} else {
		ts = time.Now().UTC()
	}

	bids := make([]BookLevel, 0, len(ob.Bids))
	for _, level := range ob.Bids {
		if len(level) < 2 {
			continue
		}
		bids = append(bids, convertLevel(level, ts))
	}

	asks := make([]BookLevel, 0, len(ob.Asks))
	for _, level := range ob.Asks {
		if len(level) < 2 {
			continue
		}
		asks = append(asks, convertLevel(level, ts))
	}

	return OrderBook{
		Pair:      pair,
		Bids:      bids,
		Asks:      asks,
		Timestamp: ts,
	}
}

func convertLevel(level []float64, fallback time.Time) BookLevel {
	lv := BookLevel{
		Price:     level[0],
		Volume:    level[1],
		Timestamp: fallback,
	}
	// Kraken 在第三个元素携带档位时间戳（秒）。
	if len(level) >= 3 && level[2] > 0 {
		lv.Timestamp = time.Unix(int64(level[2]), 0).UTC()
	}
	return lv
}
