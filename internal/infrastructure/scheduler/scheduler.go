// Package scheduler периодически ставит полную синхронизацию всех продавцов.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/DRSN-tech/price-sync/pkg/logger"
)

// Trigger — часть очереди задач, которой пользуется планировщик.
type Trigger interface {
	TriggerSync(ctx context.Context, merchant, category string) (string, error)
}

type Scheduler struct {
	trigger  Trigger
	interval time.Duration
	logger   logger.Logger

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New создаёт планировщик. interval <= 0 отключает его: Start ничего не запускает.
func New(trigger Trigger, interval time.Duration, logger logger.Logger) *Scheduler {
	return &Scheduler{
		trigger:  trigger,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Infof("Scheduled sync disabled")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()
	s.logger.Infof("Scheduled full sync every %s", s.interval)
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			id, err := s.trigger.TriggerSync(ctx, "", "")
			if err != nil {
				s.logger.Errorf(err, "Scheduled sync failed")
				continue
			}
			s.logger.Infof("Scheduled sync queued, first job %s", id)
		}
	}
}

// Stop останавливает планировщик и дожидается выхода из цикла.
func (s *Scheduler) Stop(_ context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
	return nil
}
