package renewal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"subscription-billing-be/internal/pkg/logger"

	"github.com/robfig/cron/v3"
)

// Job is one periodic billing task.
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

// Scheduler triggers billing jobs on cron specs. A job never overlaps with
// itself; a tick that fires while the previous run is busy is dropped.
type Scheduler struct {
	cron    *cron.Cron
	logger  logger.ILogger
	timeout time.Duration
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewScheduler(log logger.ILogger, timeout time.Duration) *Scheduler {
	if timeout <= 0 {
		timeout = time.Hour
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.Recover(cron.DiscardLogger))),
		logger:  log,
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (s *Scheduler) Add(job Job) error {
	var mu sync.Mutex
	_, err := s.cron.AddFunc(job.Spec, func() {
		if !mu.TryLock() {
			s.logger.Warn("SCHEDULER", "Previous run still busy, tick dropped", map[string]interface{}{
				"job": job.Name,
			})
			return
		}
		defer mu.Unlock()
		s.run(job)
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", job.Name, job.Spec, err)
	}
	s.logger.Info("SCHEDULER", "Job scheduled", map[string]interface{}{
		"job":  job.Name,
		"spec": job.Spec,
	})
	return nil
}

func (s *Scheduler) run(job Job) {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	started := time.Now()
	err := job.Run(ctx)
	fields := map[string]interface{}{
		"job":        job.Name,
		"elapsed_ms": time.Since(started).Milliseconds(),
	}
	if err != nil {
		fields["error"] = err.Error()
		s.logger.Error("SCHEDULER", "Job failed", fields)
		return
	}
	s.logger.Info("SCHEDULER", "Job finished", fields)
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new runs, cancels running ones and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}
