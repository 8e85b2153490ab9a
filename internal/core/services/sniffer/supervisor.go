// Package sniffer supervises the capture lifecycle: it starts the worker
// pool and the capture engine together, runs the periodic maintenance
// tasks while capturing, and tears everything down in order on stop.
package sniffer

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/safelink/safelink/internal/adapters/capture"
	"github.com/safelink/safelink/internal/core/domain"
	"github.com/safelink/safelink/internal/core/ports"
	"github.com/safelink/safelink/internal/core/services/detect"
	"github.com/safelink/safelink/internal/core/services/dispatch"
)

var (
	ErrAlreadyRunning = errors.New("sniffer already running")
	ErrNotRunning     = errors.New("sniffer not running")
)

// Config tunes the supervisor's background tasks and retention policy.
type Config struct {
	Interfaces        []string
	SweepInterval     time.Duration
	RetentionInterval time.Duration
	DaysToKeep        int
	ArchiveDaysToKeep int
	MaxActiveAlerts   int
}

func (c Config) withDefaults() Config {
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	if c.RetentionInterval <= 0 {
		c.RetentionInterval = time.Hour
	}
	return c
}

// Supervisor owns the capture-side lifecycle. The dispatcher is rebuilt on
// every start; its lanes do not survive a stop.
type Supervisor struct {
	engine        *capture.Engine
	newDispatcher func() *dispatch.Dispatcher
	analyzer      *detect.Analyzer
	archiver      ports.AlertArchiver
	threats       ports.ThreatIntelStore
	cfg           Config

	mu        sync.Mutex
	running   bool
	startedAt time.Time
	ifaces    []string
	disp      *dispatch.Dispatcher
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewSupervisor wires the supervisor. archiver and threats may be nil;
// their maintenance tasks are then skipped.
func NewSupervisor(engine *capture.Engine, newDispatcher func() *dispatch.Dispatcher,
	analyzer *detect.Analyzer, archiver ports.AlertArchiver,
	threats ports.ThreatIntelStore, cfg Config) *Supervisor {
	return &Supervisor{
		engine:        engine,
		newDispatcher: newDispatcher,
		analyzer:      analyzer,
		archiver:      archiver,
		threats:       threats,
		cfg:           cfg.withDefaults(),
	}
}

// Start brings up capture on the given interfaces, falling back to the
// configured set when none are named.
func (s *Supervisor) Start(ctx context.Context, interfaces []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}
	if len(interfaces) == 0 {
		interfaces = s.cfg.Interfaces
	}
	if len(interfaces) == 0 {
		return errors.New("no capture interfaces configured")
	}

	ctx, cancel := context.WithCancel(ctx)

	disp := s.newDispatcher()
	disp.Start(ctx)

	if err := s.engine.Start(ctx, interfaces, disp.Dispatch); err != nil {
		disp.Stop()
		cancel()
		return err
	}

	s.wg.Add(1)
	go s.sweepLoop(ctx)
	if s.archiver != nil || s.threats != nil {
		s.wg.Add(1)
		go s.retentionLoop(ctx)
	}

	s.running = true
	s.startedAt = time.Now()
	s.ifaces = append([]string(nil), interfaces...)
	s.disp = disp
	s.cancel = cancel
	log.Printf("Sniffer started on %v", interfaces)
	return nil
}

// Stop cascades the shutdown: capture first so no new frames arrive, then
// the dispatcher drains its lanes, then the background tasks.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return ErrNotRunning
	}

	s.engine.Stop()
	s.disp.Stop()
	s.cancel()
	s.wg.Wait()

	s.running = false
	s.disp = nil
	s.cancel = nil
	log.Println("Sniffer stopped")
	return nil
}

// Status reports the lifecycle snapshot.
func (s *Supervisor) Status() domain.SnifferStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := domain.SnifferStatus{Running: s.running}
	if s.running {
		st.Interfaces = append([]string(nil), s.ifaces...)
		st.StartedAt = s.startedAt
		st.UptimeSec = time.Since(s.startedAt).Seconds()
	}
	return st
}

// Workers reports per-lane dispatcher stats, empty while stopped.
func (s *Supervisor) Workers() []dispatch.WorkerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disp == nil {
		return nil
	}
	return s.disp.Stats()
}

func (s *Supervisor) sweepLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.analyzer.Sweep(time.Now()); n > 0 {
				log.Printf("Swept %d stale pending ARP requests", n)
			}
		}
	}
}

func (s *Supervisor) retentionLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.RetentionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runRetention(ctx)
		}
	}
}

func (s *Supervisor) runRetention(ctx context.Context) {
	if s.archiver != nil {
		if s.cfg.DaysToKeep > 0 {
			if n, err := s.archiver.Rotate(ctx, s.cfg.DaysToKeep); err != nil {
				log.Println("Alert rotation failed:", err)
			} else if n > 0 {
				log.Printf("Rotated %d alerts older than %d days", n, s.cfg.DaysToKeep)
			}
		}
		if s.cfg.MaxActiveAlerts > 0 {
			if n, err := s.archiver.LimitActive(ctx, s.cfg.MaxActiveAlerts); err != nil {
				log.Println("Alert size-limit trim failed:", err)
			} else if n > 0 {
				log.Printf("Archived %d alerts over the active limit", n)
			}
		}
		if s.cfg.ArchiveDaysToKeep > 0 {
			if n, err := s.archiver.CleanupArchives(ctx, s.cfg.ArchiveDaysToKeep); err != nil {
				log.Println("Archive cleanup failed:", err)
			} else if n > 0 {
				log.Printf("Purged %d archived alerts older than %d days", n, s.cfg.ArchiveDaysToKeep)
			}
		}
	}
	if s.threats != nil {
		if n, err := s.threats.CleanupExpired(ctx); err != nil {
			log.Println("Threat indicator cleanup failed:", err)
		} else if n > 0 {
			log.Printf("Deactivated %d expired threat indicators", n)
		}
	}
}
