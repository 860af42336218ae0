// Package queue drains the durable offline send queue: a background
// sweep retries parked sends on an interval and immediately after the
// transport reconnects.
package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"chatcore/internal/api"
	"chatcore/internal/message"
	"chatcore/internal/store"
)

// Deliverer runs one delivery attempt for a queued send and marks sends
// terminally failed. Implemented by the pipeline orchestrator.
type Deliverer interface {
	DeliverQueued(ctx context.Context, q message.QueuedSend) error
	FailQueued(q message.QueuedSend, cause error)
}

// Config tunes the sweep cadence and the per-send retry budget.
type Config struct {
	// SweepInterval is the periodic sweep cadence.
	SweepInterval time.Duration
	// MinRetryDelay is the minimum gap between attempts for one send, so a
	// flapping connection cannot hammer the backend.
	MinRetryDelay time.Duration
	// MaxRetries is the queue-side attempt budget per send.
	MaxRetries int
}

// DefaultConfig is the consolidated queue policy.
var DefaultConfig = Config{
	SweepInterval: 30 * time.Second,
	MinRetryDelay: 5 * time.Second,
	MaxRetries:    3,
}

// Sweeper owns the background drain loop.
type Sweeper struct {
	db      *store.DB
	deliver Deliverer
	cfg     Config
	logger  *zap.Logger

	// Guards against overlapping sweeps when a reconnect kick lands while
	// a periodic sweep is still running.
	sweeping atomic.Bool

	kick chan struct{}
	quit chan struct{}
	done chan struct{}
}

// New creates a sweeper. Zero-valued config fields fall back to the
// defaults.
func New(db *store.DB, deliver Deliverer, cfg Config, logger *zap.Logger) *Sweeper {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig.SweepInterval
	}
	if cfg.MinRetryDelay <= 0 {
		cfg.MinRetryDelay = DefaultConfig.MinRetryDelay
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig.MaxRetries
	}
	return &Sweeper{
		db: db, deliver: deliver, cfg: cfg, logger: logger,
		kick: make(chan struct{}, 1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Start launches the sweep loop.
func (s *Sweeper) Start() {
	go s.loop()
}

// Stop terminates the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	close(s.quit)
	<-s.done
}

// Kick schedules an immediate sweep. Never blocks; a kick during an
// active sweep coalesces into one follow-up run.
func (s *Sweeper) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Sweeper) loop() {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.quit:
			return
		case <-ticker.C:
			s.Sweep(context.Background())
		case <-s.kick:
			s.Sweep(context.Background())
		}
	}
}

// Sweep runs one drain pass over the due queue entries. Concurrent calls
// collapse to one; the extra caller returns immediately.
func (s *Sweeper) Sweep(ctx context.Context) {
	if !s.sweeping.CompareAndSwap(false, true) {
		return
	}
	defer s.sweeping.Store(false)

	due, err := s.db.DueQueued(time.Now(), s.cfg.MinRetryDelay)
	if err != nil {
		s.logger.Error("queue scan failed", zap.Error(err))
		return
	}
	for _, q := range due {
		select {
		case <-s.quit:
			return
		default:
		}
		s.attempt(ctx, q)
	}
}

func (s *Sweeper) attempt(ctx context.Context, q message.QueuedSend) {
	if q.RetryCount >= s.cfg.MaxRetries {
		s.exhaust(q, errDrainBudget)
		return
	}
	err := s.deliver.DeliverQueued(ctx, q)
	if err == nil {
		// Confirmed; the orchestrator already cleared the entry, this is a
		// no-op safety net.
		if rmErr := s.db.RemoveQueued(q.ClientID); rmErr != nil {
			s.logger.Warn("queue cleanup failed", zap.Error(rmErr), zap.String("client_id", q.ClientID))
		}
		return
	}
	if !api.IsRetryable(err) {
		s.exhaust(q, err)
		return
	}
	s.logger.Info("queued send attempt failed",
		zap.Error(err), zap.String("client_id", q.ClientID), zap.Int("retry_count", q.RetryCount+1))
	if bumpErr := s.db.BumpRetry(q.ClientID, time.Now()); bumpErr != nil {
		s.logger.Error("retry bookkeeping failed", zap.Error(bumpErr), zap.String("client_id", q.ClientID))
	}
	if q.RetryCount+1 >= s.cfg.MaxRetries {
		s.exhaust(q, err)
	}
}

// exhaust drops a send whose budget ran out: terminal failure, entry
// removed so later sweeps skip it.
func (s *Sweeper) exhaust(q message.QueuedSend, cause error) {
	s.logger.Warn("queued send abandoned",
		zap.String("client_id", q.ClientID), zap.Int("retry_count", q.RetryCount), zap.Error(cause))
	s.deliver.FailQueued(q, cause)
	if err := s.db.RemoveQueued(q.ClientID); err != nil {
		s.logger.Error("queue cleanup failed", zap.Error(err), zap.String("client_id", q.ClientID))
	}
}

var errDrainBudget = errors.New("queue: retry budget exhausted")
