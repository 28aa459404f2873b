package reward

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/crewpay/crewpay/internal/retry"
)

// Timer periodically retries settlement of PENDING rewards. Rewards defer
// when the referred job has not paid out yet or the platform balance cannot
// cover them, so they need a background sweep to eventually land.
type Timer struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewTimer creates a new reward settlement timer.
func NewTimer(service *Service, interval time.Duration, logger *slog.Logger) *Timer {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Timer{
		service:  service,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the timer loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the settlement sweep loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeSweep(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in reward timer", "panic", fmt.Sprint(r))
		}
	}()

	var settled int
	err := retry.Do(ctx, 3, time.Second, func() error {
		var sweepErr error
		settled, sweepErr = t.service.SettlePending(ctx, 100)
		return sweepErr
	})
	if err != nil {
		t.logger.Warn("reward sweep failed", "error", err)
		return
	}
	if settled > 0 {
		t.logger.Info("reward sweep settled rewards", "count", settled)
	}
}
