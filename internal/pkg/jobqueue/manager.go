package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/technovacao/registration/internal/pkg/config"
	"github.com/technovacao/registration/internal/pkg/payments"
)

// Sweeper completes lost notifications and releases expired seat holds.
type Sweeper interface {
	Sweep(ctx context.Context, minAge, holdTTL time.Duration) (payments.SweepReport, error)
}

// Manager manages the job queue and the periodic pending-payment sweep
type Manager struct {
	queue       *Queue
	sweeper     Sweeper
	cfg         config.Reconcile
	sweepTicker *time.Ticker
	stopCh      chan struct{}
	wg          sync.WaitGroup
	mu          sync.Mutex
	running     bool
}

// NewManager wires a queue and a sweeper. A nil sweeper disables the sweep;
// a nil queue runs only the sweep.
func NewManager(queue *Queue, sweeper Sweeper, cfg config.Reconcile) *Manager {
	return &Manager{
		queue:   queue,
		sweeper: sweeper,
		cfg:     cfg,
		stopCh:  make(chan struct{}),
	}
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	if m.queue != nil {
		m.queue.Start()
	}

	if m.sweeper != nil && m.cfg.SweepInterval > 0 {
		m.sweepTicker = time.NewTicker(m.cfg.SweepInterval)
		m.wg.Add(1)
		go m.sweepWorker(m.sweepTicker, m.stopCh)
	}

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")

	if m.sweepTicker != nil {
		m.sweepTicker.Stop()
	}

	// Signal workers to stop
	close(m.stopCh)
	m.running = false

	// Wait for background workers to finish
	m.wg.Wait()

	if m.queue != nil {
		m.queue.Stop()
	}

	log.Info("[JobQueue Manager] Stopped successfully")
}

// sweepWorker periodically reconciles stale pending payments
func (m *Manager) sweepWorker(ticker *time.Ticker, stopCh chan struct{}) {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started pending sweep (interval: %s, min age: %s, hold ttl: %s)",
		m.cfg.SweepInterval, m.cfg.SweepMinAge, m.cfg.PendingHoldTTL)

	for {
		select {
		case <-stopCh:
			log.Info("[JobQueue Manager] Pending sweep stopping")
			return
		case <-ticker.C:
			if _, err := m.RunSweepOnce(); err != nil {
				log.Errorf("[JobQueue Manager] Pending sweep error: %v", err)
			}
		}
	}
}

// RunSweepOnce runs a single sweep, bounded by a few provider timeouts.
func (m *Manager) RunSweepOnce() (payments.SweepReport, error) {
	if m.sweeper == nil {
		return payments.SweepReport{}, nil
	}
	timeout := m.cfg.SweepInterval
	if timeout <= 0 || timeout > 10*time.Minute {
		timeout = 10 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return m.sweeper.Sweep(ctx, m.cfg.SweepMinAge, m.cfg.PendingHoldTTL)
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
