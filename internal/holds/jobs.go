package holds

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/zomestaydeveloper/Zomestay/pkg/logger"
)

// SweeperConfig contains configuration for the hold expiry job
type SweeperConfig struct {
	Interval  time.Duration
	BatchSize int
}

func DefaultSweeperConfig() *SweeperConfig {
	return &SweeperConfig{
		Interval:  30 * time.Second,
		BatchSize: 100,
	}
}

// Sweeper expires holds on a wall-clock ticker, independent of request
// traffic.
type Sweeper struct {
	manager *Manager
	config  *SweeperConfig
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	log     *logger.Logger
}

func NewSweeper(manager *Manager, config *SweeperConfig) *Sweeper {
	if config == nil {
		config = DefaultSweeperConfig()
	}
	return &Sweeper{
		manager: manager,
		config:  config,
		done:    make(chan struct{}),
		log:     logger.GetDefault().WithComponent("hold-sweeper"),
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
	s.log.Info("Hold sweeper started",
		slog.Duration("interval", s.config.Interval),
		slog.Int("batch_size", s.config.BatchSize),
	)
}

// Stop ends the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.once.Do(func() { close(s.done) })
	s.wg.Wait()
	s.log.Info("Hold sweeper stopped")
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	// Catch up on holds that ran out while the process was down.
	s.SweepOnce(ctx)

	for {
		select {
		case <-ticker.C:
			s.SweepOnce(ctx)
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// SweepOnce drains every due hold, one batch at a time.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	total := 0
	for {
		n, err := s.manager.ExpireDue(ctx, s.config.BatchSize)
		total += n
		if err != nil {
			s.log.ErrorWithContext(ctx, "hold sweep failed", err, map[string]interface{}{"expired": total})
			break
		}
		if n < s.config.BatchSize {
			break
		}
	}
	if total > 0 {
		s.log.InfoWithContext(ctx, "Expired holds", map[string]interface{}{
			"count":      total,
			"batch_size": s.config.BatchSize,
		})
	}
	return total
}

func (s *Sweeper) GetJobStatus() map[string]interface{} {
	return map[string]interface{}{
		"interval":   s.config.Interval.String(),
		"batch_size": s.config.BatchSize,
		"status":     "running",
	}
}
