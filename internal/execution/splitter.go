package execution

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"kraken-trader/internal/config"
	"kraken-trader/internal/exchange"
)

// Splitter 将一笔过大的订单拆为多笔随机化的子市价单顺序执行，
// 通过盘口深度控制单笔冲击，通过随机间隔避免可识别的下单节奏。
type Splitter struct {
	gateway Gateway
	clock   Clock
	rng     *rand.Rand
	ids     IDSource
	logger  *zap.Logger

	slippageTarget float64
	maxChunkPct    float64
	chunkVariance  float64
	staggerMin     time.Duration
	staggerMax     time.Duration
	bookDepth      int
}

// NewSplitter 创建拆单执行器。rng 可注入以便测试复现，传nil时
// 使用时间种子。
func NewSplitter(gateway Gateway, cfg config.ExecutionConfig, clock Clock, rng *rand.Rand, ids IDSource, logger *zap.Logger) *Splitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = NewClock()
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if ids == nil {
		ids = NewIDSource()
	}
	return &Splitter{
		gateway:        gateway,
		clock:          clock,
		rng:            rng,
		ids:            ids,
		logger:         logger,
		slippageTarget: cfg.SlippageTarget,
		maxChunkPct:    cfg.MaxChunkPct,
		chunkVariance:  cfg.ChunkVariance,
		staggerMin:     cfg.StaggerMin,
		staggerMax:     cfg.StaggerMax,
		bookDepth:      cfg.BookDepth,
	}
}

// Split 根据盘口深度把 targetSize 拆为若干块，块大小经随机扰动后
// 整体缩放，保证总和精确等于目标量。盘口缺失时退化为固定等分。
func (s *Splitter) Split(targetSize float64, side Direction, book exchange.OrderBook) []float64 {
	if targetSize <= 0 {
		return nil
	}

	maxChunk := s.maxSafeChunk(book, side, targetSize)

	var count int
	if maxChunk <= 0 {
		count = s.defaultChunkCount()
	} else {
		count = int(math.Ceil(targetSize / maxChunk))
		if count < 2 {
			count = 2
		}
	}

	sizes := make([]float64, count)
	equal := targetSize / float64(count)
	var sum float64
	for i := range sizes {
		variance := 1 + (s.rng.Float64()*2-1)*s.chunkVariance
		sizes[i] = equal * variance
		sum += sizes[i]
	}

	// 整体缩放，消除扰动带来的总量漂移。
	scale := targetSize / sum
	for i := range sizes {
		sizes[i] *= scale
	}

	return sizes
}

// maxSafeChunk 沿盘口相关侧逐档累积量，直到价格相对最优档的偏离
// 超过滑点目标；安全块上限取该深度的一半与 maxChunkPct 份额的较小值。
// 深度不可用时返回0。
func (s *Splitter) maxSafeChunk(book exchange.OrderBook, side Direction, total float64) float64 {
	levels := book.Asks
	if side == DirectionSell {
		levels = book.Bids
	}
	if len(levels) == 0 {
		return 0
	}
	if s.bookDepth > 0 && len(levels) > s.bookDepth {
		levels = levels[:s.bookDepth]
	}

	best := levels[0].Price
	if best <= 0 {
		return 0
	}

	// 买入目标量以计价币计，卖出以基础币计；累积深度须换算到
	// 同一币种后才能与 total 比较。
	var depth float64
	for _, level := range levels {
		deviation := math.Abs(level.Price-best) / best
		if deviation > s.slippageTarget {
			break
		}
		if side == DirectionSell {
			depth += level.Volume
		} else {
			depth += level.Volume * level.Price
		}
	}
	if depth <= 0 {
		return 0
	}

	return math.Min(0.5*depth, s.maxChunkPct*total)
}

func (s *Splitter) defaultChunkCount() int {
	count := 2
	if s.maxChunkPct > 0 {
		count = int(math.Round(1 / s.maxChunkPct))
	}
	if count < 2 {
		count = 2
	}
	return count
}

// Execute 顺序执行全部子订单。单个子订单失败只标记该子订单，
// 其余继续执行；非末笔之间随机等待以打散时间特征。
func (s *Splitter) Execute(ctx context.Context, pair string, side Direction, targetSize float64) SplitResult {
	result := SplitResult{
		ParentID:   s.ids.Next("split"),
		Pair:       pair,
		Side:       side,
		TargetSize: targetSize,
	}

	book, err := s.gateway.OrderBook(ctx, pair, s.bookDepth)
	if err != nil {
		s.logger.Warn("读取盘口失败，使用默认等分", zap.String("pair", pair), zap.Error(err))
		book = exchange.OrderBook{}
	}

	sizes := s.Split(targetSize, side, book)
	result.Children = make([]ChildOrder, 0, len(sizes))

	var executed float64
	var baseTotal float64
	var quoteTotal float64

	for i, size := range sizes {
		child := ChildOrder{
			Index:      i,
			TargetSize: size,
			Status:     ChildPending,
		}

		ack, fillErr := s.placeChild(ctx, pair, side, size)
		if fillErr != nil {
			child.Status = ChildFailed
			s.logger.Warn("子订单执行失败",
				zap.String("parent_id", result.ParentID),
				zap.Int("index", i),
				zap.Error(fillErr),
			)
			result.Children = append(result.Children, child)
			continue
		}

		child.OrderID = ack.OrderID
		child.ExecutedSize = s.executedSize(ack, side, size)
		child.FillPrice = s.recordFillPrice(ctx, pair, ack)
		child.Status = ChildFilled

		executed += child.ExecutedSize
		if child.FillPrice > 0 {
			if side == DirectionSell {
				baseTotal += child.ExecutedSize
				quoteTotal += child.ExecutedSize * child.FillPrice
			} else {
				quoteTotal += child.ExecutedSize
				baseTotal += child.ExecutedSize / child.FillPrice
			}
		}
		result.Children = append(result.Children, child)

		if i < len(sizes)-1 {
			if sleepErr := s.stagger(ctx); sleepErr != nil {
				s.logger.Warn("拆单执行被中断",
					zap.String("parent_id", result.ParentID),
					zap.Error(sleepErr),
				)
				break
			}
		}
	}

	result.ExecutedSize = executed
	if baseTotal > 0 {
		result.AveragePrice = quoteTotal / baseTotal
	}
	if executed >= targetSize*completionThreshold {
		result.Status = AggregateCompleted
	} else {
		result.Status = AggregatePartial
	}

	s.logger.Info("拆单执行完成",
		zap.String("parent_id", result.ParentID),
		zap.String("pair", pair),
		zap.Int("chunks", len(result.Children)),
		zap.Float64("target", targetSize),
		zap.Float64("executed", executed),
		zap.String("status", string(result.Status)),
	)

	return result
}

func (s *Splitter) placeChild(ctx context.Context, pair string, side Direction, size float64) (exchange.OrderAck, error) {
	if side == DirectionSell {
		return s.gateway.MarketSell(ctx, pair, size)
	}
	return s.gateway.MarketBuy(ctx, pair, size)
}

func (s *Splitter) executedSize(ack exchange.OrderAck, side Direction, target float64) float64 {
	executed := ack.FilledQuote
	if side == DirectionSell {
		executed = ack.FilledBase
	}
	if executed <= 0 {
		executed = target
	}
	return executed
}

// recordFillPrice 在每笔子订单后补读一次行情记录成交价。
func (s *Splitter) recordFillPrice(ctx context.Context, pair string, ack exchange.OrderAck) float64 {
	if ack.Price > 0 {
		return ack.Price
	}
	ticker, err := s.gateway.Ticker(ctx, pair)
	if err != nil {
		s.logger.Warn("补读行情失败", zap.String("pair", pair), zap.Error(err))
		return 0
	}
	return ticker.Price
}

func (s *Splitter) stagger(ctx context.Context) error {
	wait := s.staggerMin
	if span := s.staggerMax - s.staggerMin; span > 0 {
		wait += time.Duration(s.rng.Int63n(int64(span)))
	}
	return s.clock.Sleep(ctx, wait)
}
