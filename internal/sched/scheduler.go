// Package sched runs the background jobs: the evaluation auto-sweep, the
// weather feed poll, snapshot resync for the memory backend, and the
// retrain worker fed by large evaluation errors.
package sched

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/weathervane/weathervane/internal/models"
)

// Snapshotter is implemented by stores that persist via periodic snapshots.
type Snapshotter interface {
	Save() error
}

// Config controls job cadence. Zero intervals disable the job.
type Config struct {
	SweepInterval  time.Duration
	PollInterval   time.Duration
	ResyncInterval time.Duration
}

type Scheduler struct {
	cron    *gocron.Scheduler
	cfg     Config
	retrain chan struct{}
	done    chan struct{}

	sweep  func(ctx context.Context, now time.Time) (int, error)
	poll   func(ctx context.Context) error
	train  func(ctx context.Context) error
	resync Snapshotter
}

func New(cfg Config) *Scheduler {
	return &Scheduler{
		cron:    gocron.NewScheduler(time.UTC),
		cfg:     cfg,
		retrain: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// SetSweep installs the auto-evaluation sweep.
func (s *Scheduler) SetSweep(fn func(ctx context.Context, now time.Time) (int, error)) {
	s.sweep = fn
}

// SetPoll installs the weather feed poll.
func (s *Scheduler) SetPoll(fn func(ctx context.Context) error) {
	s.poll = fn
}

// SetTrain installs the retrain target invoked by RequestRetrain.
func (s *Scheduler) SetTrain(fn func(ctx context.Context) error) {
	s.train = fn
}

// SetSnapshotter enables the periodic snapshot resync job. Only the memory
// backend needs this; pass nil to skip.
func (s *Scheduler) SetSnapshotter(sn Snapshotter) {
	s.resync = sn
}

// RequestRetrain queues a model retrain. Coalesces: a retrain already
// queued absorbs further requests, and the call never blocks. Safe to use
// as the evaluator's large-error hook.
func (s *Scheduler) RequestRetrain(ev models.Evaluation) {
	select {
	case s.retrain <- struct{}{}:
		log.Printf("sched: retrain queued (forecast %d error %.1f°C)", ev.ForecastID, ev.AbsoluteError)
	default:
	}
}

// Start registers the jobs and launches them. Jobs run until Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.sweep != nil && s.cfg.SweepInterval > 0 {
		_, err := s.cron.Every(s.cfg.SweepInterval).SingletonMode().StartImmediately().Do(func() {
			// StartImmediately gives a first pass shortly after boot so
			// forecasts due while the service was down settle quickly.
			n, err := s.sweep(ctx, time.Now().UTC())
			if err != nil {
				log.Printf("sched: auto-sweep: %v", err)
				return
			}
			if n > 0 {
				log.Printf("sched: auto-sweep settled %d forecasts", n)
			}
		})
		if err != nil {
			return err
		}
	}

	if s.poll != nil && s.cfg.PollInterval > 0 {
		_, err := s.cron.Every(s.cfg.PollInterval).SingletonMode().Do(func() {
			if err := s.poll(ctx); err != nil {
				log.Printf("sched: feed poll: %v", err)
			}
		})
		if err != nil {
			return err
		}
	}

	if s.resync != nil && s.cfg.ResyncInterval > 0 {
		_, err := s.cron.Every(s.cfg.ResyncInterval).SingletonMode().Do(func() {
			if err := s.resync.Save(); err != nil {
				log.Printf("sched: snapshot resync: %v", err)
			}
		})
		if err != nil {
			return err
		}
	}

	s.cron.StartAsync()

	if s.train != nil {
		go s.retrainLoop(ctx)
	}
	return nil
}

func (s *Scheduler) retrainLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-s.retrain:
			// Small delay so a burst of bad evaluations collapses into
			// one retrain over the freshest data.
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
				return
			}
			if err := s.train(ctx); err != nil {
				log.Printf("sched: retrain: %v", err)
			}
		}
	}
}

// Stop halts all jobs and the retrain worker.
func (s *Scheduler) Stop() {
	close(s.done)
	s.cron.Stop()
}
