package sniffer

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safelink/safelink/internal/adapters/capture"
	"github.com/safelink/safelink/internal/core/domain"
	"github.com/safelink/safelink/internal/core/services/detect"
	"github.com/safelink/safelink/internal/core/services/dispatch"
)

// tickSource emits one frame every interval until canceled.
type tickSource struct {
	iface    string
	interval time.Duration
}

func (s *tickSource) Run(ctx context.Context, emit func(domain.Frame)) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			now := time.Now()
			emit(domain.Frame{
				SrcMAC:    "00:50:56:00:00:01",
				DstMAC:    domain.BroadcastMAC,
				SenderIP:  "192.168.1.10",
				TargetIP:  "192.168.1.1",
				Opcode:    domain.OpRequest,
				Interface: s.iface,
				Captured:  now,
				Ingress:   now,
			})
		}
	}
}

func (s *tickSource) Close() {}

func testSupervisor(t *testing.T, handled *atomic.Int64) *Supervisor {
	t.Helper()
	open := func(iface string) (capture.FrameSource, error) {
		return &tickSource{iface: iface, interval: 5 * time.Millisecond}, nil
	}
	engine := capture.NewEngine(open, capture.NewRegistry(), 256)
	newDisp := func() *dispatch.Dispatcher {
		return dispatch.New(2, 64, dispatch.LeastLoaded, time.Second,
			func(_ context.Context, _ int, _ domain.Frame) {
				handled.Add(1)
			})
	}
	analyzer := detect.NewAnalyzer(100, time.Minute)
	return NewSupervisor(engine, newDisp, analyzer, nil, nil, Config{
		Interfaces: []string{"eth0"},
	})
}

func TestSupervisorLifecycle(t *testing.T) {
	var handled atomic.Int64
	s := testSupervisor(t, &handled)

	require.False(t, s.Status().Running)
	assert.ErrorIs(t, s.Stop(), ErrNotRunning)

	require.NoError(t, s.Start(context.Background(), nil))
	assert.ErrorIs(t, s.Start(context.Background(), nil), ErrAlreadyRunning)

	st := s.Status()
	assert.True(t, st.Running)
	assert.Equal(t, []string{"eth0"}, st.Interfaces)

	// Frames flow from capture through the dispatcher to the handler.
	require.Eventually(t, func() bool { return handled.Load() > 0 },
		2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Stop())
	assert.False(t, s.Status().Running)
	assert.Empty(t, s.Workers())
}

func TestSupervisorRestarts(t *testing.T) {
	var handled atomic.Int64
	s := testSupervisor(t, &handled)

	require.NoError(t, s.Start(context.Background(), []string{"eth1"}))
	assert.Equal(t, []string{"eth1"}, s.Status().Interfaces)
	require.NoError(t, s.Stop())

	before := handled.Load()
	require.NoError(t, s.Start(context.Background(), nil))
	require.Eventually(t, func() bool { return handled.Load() > before },
		2*time.Second, 10*time.Millisecond)
	require.NoError(t, s.Stop())
}

func TestSupervisorStartFailsWithoutInterfaces(t *testing.T) {
	engine := capture.NewEngine(func(string) (capture.FrameSource, error) {
		return nil, capture.ErrCaptureUnavailable
	}, capture.NewRegistry(), 16)
	s := NewSupervisor(engine, func() *dispatch.Dispatcher {
		return dispatch.New(1, 16, dispatch.RoundRobin, time.Second,
			func(context.Context, int, domain.Frame) {})
	}, detect.NewAnalyzer(10, time.Minute), nil, nil, Config{})

	err := s.Start(context.Background(), nil)
	require.Error(t, err)

	err = s.Start(context.Background(), []string{"eth0"})
	assert.ErrorIs(t, err, capture.ErrCaptureUnavailable)
	assert.False(t, s.Status().Running)
}

// archiveSpy counts retention calls.
type archiveSpy struct {
	mu      sync.Mutex
	rotated int
	limited int
	purged  int
}

func (a *archiveSpy) Archive(context.Context, []uint, domain.ArchiveReason) (int, error) {
	return 0, nil
}

func (a *archiveSpy) Rotate(context.Context, int) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rotated++
	return 1, nil
}

func (a *archiveSpy) LimitActive(context.Context, int) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.limited++
	return 0, nil
}

func (a *archiveSpy) CleanupArchives(context.Context, int) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.purged++
	return 0, nil
}

func (a *archiveSpy) Archived(context.Context, int, int) ([]domain.ArchivedAlert, error) {
	return nil, nil
}

func TestSupervisorRunsRetention(t *testing.T) {
	spy := &archiveSpy{}
	s := NewSupervisor(nil, nil, nil, spy, nil, Config{
		DaysToKeep:        30,
		ArchiveDaysToKeep: 365,
		MaxActiveAlerts:   1000,
	})
	s.runRetention(context.Background())

	spy.mu.Lock()
	defer spy.mu.Unlock()
	assert.Equal(t, 1, spy.rotated)
	assert.Equal(t, 1, spy.limited)
	assert.Equal(t, 1, spy.purged)
}
