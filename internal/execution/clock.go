package execution

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Clock 抽象时间来源，测试中用手动时钟模拟轮询超时与延迟。
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

// NewClock 返回基于系统时间的时钟。
func NewClock() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return time.Now().UTC()
}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IDSource 生成多子订单执行的父标识。实例自持序号，
// 不依赖包级共享状态。
type IDSource interface {
	Next(prefix string) string
}

type idSource struct {
	seq atomic.Uint64
}

// NewIDSource 返回默认的标识生成器。
func NewIDSource() IDSource {
	return &idSource{}
}

func (s *idSource) Next(prefix string) string {
	n := s.seq.Add(1)
	return fmt.Sprintf("%s-%04d-%s", prefix, n, uuid.NewString()[:8])
}
