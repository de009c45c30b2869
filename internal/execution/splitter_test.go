package execution

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"kraken-trader/internal/exchange"
)

func testBook(levels ...exchange.BookLevel) exchange.OrderBook {
	return exchange.OrderBook{Pair: "XBT/USD", Asks: levels, Bids: levels}
}

func newTestSplitter(gw *fakeGateway, seed int64) (*Splitter, *fakeClock) {
	clock := newFakeClock()
	rng := rand.New(rand.NewSource(seed))
	s := NewSplitter(gw, testExecutionConfig(), clock, rng, NewIDSource(), nil)
	return s, clock
}

func TestSplitter_ChunksSumToTarget(t *testing.T) {
	s, _ := newTestSplitter(&fakeGateway{}, 42)

	book := testBook(
		exchange.BookLevel{Price: 100, Volume: 10},
		exchange.BookLevel{Price: 100.5, Volume: 10},
		exchange.BookLevel{Price: 101.5, Volume: 20},
	)

	sizes := s.Split(8, DirectionBuy, book)
	if len(sizes) == 0 {
		t.Fatal("expected chunks")
	}

	var sum float64
	for _, size := range sizes {
		if size <= 0 {
			t.Errorf("chunk must be positive, got %f", size)
		}
		sum += size
	}
	assertClose(t, sum, 8, 1e-9, "chunk sum")
}

func TestSplitter_ChunkCountFollowsBookDepth(t *testing.T) {
	s, _ := newTestSplitter(&fakeGateway{}, 1)

	// 滑点目标1%内的计价币深度为2005，安全块 = min(1002.5, 0.25*8) = 2。
	book := testBook(
		exchange.BookLevel{Price: 100, Volume: 10},
		exchange.BookLevel{Price: 100.5, Volume: 10},
		exchange.BookLevel{Price: 101.5, Volume: 20},
	)

	sizes := s.Split(8, DirectionBuy, book)
	if len(sizes) != 4 {
		t.Errorf("expected 4 chunks, got %d", len(sizes))
	}
}

func TestSplitter_BuyDepthMeasuredInQuoteCurrency(t *testing.T) {
	s, _ := newTestSplitter(&fakeGateway{}, 17)

	// 高价币种下基础币深度数值远小于计价币目标量；
	// 深度按档位价格折算后，块数应由 maxChunkPct 决定而非深度塌缩。
	book := testBook(
		exchange.BookLevel{Price: 100000, Volume: 10},
		exchange.BookLevel{Price: 100200, Volume: 10},
		exchange.BookLevel{Price: 100500, Volume: 10},
	)

	sizes := s.Split(2000, DirectionBuy, book)
	// 计价币深度约300万，安全块 = min(深度/2, 0.25*2000) = 500 → 4块。
	if len(sizes) != 4 {
		t.Fatalf("expected 4 chunks, got %d", len(sizes))
	}

	var sum float64
	for _, size := range sizes {
		sum += size
	}
	assertClose(t, sum, 2000, 1e-9, "chunk sum")
}

func TestSplitter_EmptyBookUsesDefaultChunks(t *testing.T) {
	s, _ := newTestSplitter(&fakeGateway{}, 7)

	sizes := s.Split(10, DirectionBuy, exchange.OrderBook{})
	// maxChunkPct=0.25 时默认等分为4块。
	if len(sizes) != 4 {
		t.Fatalf("expected 4 default chunks, got %d", len(sizes))
	}

	var sum float64
	for _, size := range sizes {
		sum += size
	}
	assertClose(t, sum, 10, 1e-9, "chunk sum")
}

func TestSplitter_SplitIsDeterministicForSeed(t *testing.T) {
	a, _ := newTestSplitter(&fakeGateway{}, 99)
	b, _ := newTestSplitter(&fakeGateway{}, 99)

	first := a.Split(10, DirectionBuy, exchange.OrderBook{})
	second := b.Split(10, DirectionBuy, exchange.OrderBook{})

	if len(first) != len(second) {
		t.Fatalf("chunk count mismatch: %d vs %d", len(first), len(second))
	}
	for i := range first {
		assertClose(t, first[i], second[i], 1e-12, "chunk")
	}
}

func TestSplitter_ZeroTargetProducesNoChunks(t *testing.T) {
	s, _ := newTestSplitter(&fakeGateway{}, 3)
	if sizes := s.Split(0, DirectionBuy, exchange.OrderBook{}); sizes != nil {
		t.Errorf("expected nil for zero target, got %v", sizes)
	}
}

func TestSplitter_ExecuteAggregatesChildren(t *testing.T) {
	gw := &fakeGateway{
		marketAck: orderAck("C1", 100, 0, 0, 0),
	}
	s, clock := newTestSplitter(gw, 42)

	result := s.Execute(context.Background(), "XBT/USD", DirectionBuy, 1000)

	if result.Status != AggregateCompleted {
		t.Fatalf("expected completed, got %s", result.Status)
	}
	if len(result.Children) != 4 {
		t.Fatalf("expected 4 children, got %d", len(result.Children))
	}
	for _, child := range result.Children {
		if child.Status != ChildFilled {
			t.Errorf("child %d not filled: %s", child.Index, child.Status)
		}
	}
	assertClose(t, result.ExecutedSize, 1000, 1e-9, "executed size")
	assertClose(t, result.AveragePrice, 100, 1e-9, "vwap")
	if result.ParentID == "" {
		t.Error("expected parent id")
	}

	// 非末笔之间随机等待，间隔落在配置区间内。
	if len(clock.sleeps) != 3 {
		t.Fatalf("expected 3 staggers, got %d", len(clock.sleeps))
	}
	for i, d := range clock.sleeps {
		if d < 30*time.Second || d >= 60*time.Second {
			t.Errorf("stagger %d out of range: %v", i, d)
		}
	}
}

func TestSplitter_ChildFailureDoesNotAbortRest(t *testing.T) {
	gw := &fakeGateway{marketErr: errTest("rejected")}
	s, _ := newTestSplitter(gw, 5)

	result := s.Execute(context.Background(), "XBT/USD", DirectionBuy, 1000)

	if result.Status != AggregatePartial {
		t.Fatalf("expected partial, got %s", result.Status)
	}
	if len(result.Children) != 4 {
		t.Fatalf("expected all children attempted, got %d", len(result.Children))
	}
	for _, child := range result.Children {
		if child.Status != ChildFailed {
			t.Errorf("child %d: expected failed, got %s", child.Index, child.Status)
		}
	}
	if result.ExecutedSize != 0 {
		t.Errorf("expected no executed size, got %f", result.ExecutedSize)
	}
}

func TestSplitter_SellWalksBidSide(t *testing.T) {
	gw := &fakeGateway{
		book: exchange.OrderBook{
			Bids: []exchange.BookLevel{
				{Price: 100, Volume: 4},
				{Price: 99.5, Volume: 4},
			},
		},
		marketAck: orderAck("C2", 99.8, 0, 0, 0),
	}
	s, _ := newTestSplitter(gw, 11)

	result := s.Execute(context.Background(), "XBT/USD", DirectionSell, 4)

	if result.Status != AggregateCompleted {
		t.Fatalf("expected completed, got %s", result.Status)
	}
	assertClose(t, result.ExecutedSize, 4, 1e-9, "executed size")
	assertClose(t, result.AveragePrice, 99.8, 1e-9, "vwap")
	if n := gw.countCalls("MarketSell"); n != len(result.Children) {
		t.Errorf("expected %d sells, got %d", len(result.Children), n)
	}
}
