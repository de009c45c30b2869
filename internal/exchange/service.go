package exchange

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// MarketDataService 聚合行情、盘口与K线数据获取。
type MarketDataService struct {
	client *Client
	logger *zap.Logger
}

// NewMarketDataService 创建市场数据服务。
func NewMarketDataService(client *Client, logger *zap.Logger) *MarketDataService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MarketDataService{
		client: client,
		logger: logger,
	}
}

// GetSnapshot 并发拉取指定交易对的行情、订单簿与1小时K线。
func (s *MarketDataService) GetSnapshot(ctx context.Context, pair string, bookDepth int, candleLimit int) (MarketSnapshot, error) {
	if bookDepth <= 0 {
		bookDepth = 25
	}
	if candleLimit <= 0 {
		candleLimit = 48
	}

	var (
		ticker    Ticker
		orderBook OrderBook
		candles   []Candle
	)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		data, err := s.client.Ticker(groupCtx, pair)
		if err != nil {
			return err
		}
		ticker = data
		return nil
	})

	group.Go(func() error {
		book, err := s.client.OrderBook(groupCtx, pair, bookDepth)
		if err != nil {
			return err
		}
		orderBook = book
		return nil
	})

	group.Go(func() error {
		data, err := s.client.Candles(groupCtx, pair, Timeframe1h, candleLimit)
		if err != nil {
			return err
		}
		candles = data
		return nil
	})

	if err := group.Wait(); err != nil {
		return MarketSnapshot{}, err
	}

	snapshot := MarketSnapshot{
		Pair:        pair,
		Ticker:      ticker,
		OrderBook:   orderBook,
		Candles1H:   candles,
		RetrievedAt: time.Now().UTC(),
	}

	s.logger.Debug("市场数据快照获取完成",
		zap.String("pair", pair),
		zap.Time("retrieved_at", snapshot.RetrievedAt),
		zap.Int("candle_1h_count", len(snapshot.Candles1H)),
		zap.Int("order_book_bids", len(snapshot.OrderBook.Bids)),
		zap.Int("order_book_asks", len(snapshot.OrderBook.Asks)),
	)

	return snapshot, nil
}

// Candles 透传K线获取，供波动率估计等轻量用途。
func (s *MarketDataService) Candles(ctx context.Context, pair string, timeframe string, limit int) ([]Candle, error) {
	return s.client.Candles(ctx, pair, timeframe, limit)
}
