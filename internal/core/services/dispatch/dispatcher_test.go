package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safelink/safelink/internal/core/domain"
)

type recorder struct {
	mu     sync.Mutex
	byLane map[int][]domain.Frame
}

func newRecorder() *recorder {
	return &recorder{byLane: make(map[int][]domain.Frame)}
}

func (r *recorder) handle(_ context.Context, workerID int, frame domain.Frame) {
	r.mu.Lock()
	r.byLane[workerID] = append(r.byLane[workerID], frame)
	r.mu.Unlock()
}

func (r *recorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, frames := range r.byLane {
		n += len(frames)
	}
	return n
}

func frameOn(iface, senderIP string) domain.Frame {
	now := time.Now()
	return domain.Frame{
		SrcMAC:    "AA:BB:CC:00:00:01",
		SenderIP:  senderIP,
		TargetIP:  "192.168.1.1",
		Opcode:    domain.OpRequest,
		Interface: iface,
		Captured:  now,
		Ingress:   now,
	}
}

func TestAffinityPinsInterfacesAndPreservesOrder(t *testing.T) {
	rec := newRecorder()
	d := New(4, 2048, Affinity, time.Second, rec.handle)
	d.Start(context.Background())

	// Interleave two interfaces; sequence number rides in the sender IP.
	for i := 0; i < 1000; i++ {
		iface := "eth0"
		if i%2 == 1 {
			iface = "eth1"
		}
		ok := d.Dispatch(frameOn(iface, fmt.Sprintf("10.0.%d.%d", i/250, i%250)))
		require.True(t, ok)
	}
	d.Stop()

	require.Equal(t, 1000, rec.total())

	// Each interface landed on exactly one lane.
	laneFor := make(map[string]map[int]bool)
	for lane, frames := range rec.byLane {
		for _, f := range frames {
			if laneFor[f.Interface] == nil {
				laneFor[f.Interface] = make(map[int]bool)
			}
			laneFor[f.Interface][lane] = true
		}
	}
	require.Len(t, laneFor["eth0"], 1)
	require.Len(t, laneFor["eth1"], 1)

	// Within a lane, frames kept their dispatch order.
	seq := make(map[string]int)
	for i := 0; i < 1000; i++ {
		seq[fmt.Sprintf("10.0.%d.%d", i/250, i%250)] = i
	}
	for _, frames := range rec.byLane {
		last := -1
		for _, f := range frames {
			idx := seq[f.SenderIP]
			assert.Greater(t, idx, last)
			last = idx
		}
	}
}

func TestRoundRobinSpreadsEvenly(t *testing.T) {
	rec := newRecorder()
	d := New(4, 64, RoundRobin, time.Second, rec.handle)
	d.Start(context.Background())

	for i := 0; i < 40; i++ {
		require.True(t, d.Dispatch(frameOn("eth0", "10.0.0.1")))
	}
	d.Stop()

	total := uint64(0)
	for _, s := range d.Stats() {
		assert.Equal(t, uint64(10), s.Processed)
		total += s.Processed
	}
	assert.Equal(t, uint64(40), total)
}

func TestLeastLoadedTieBreaksLowestID(t *testing.T) {
	// Workers never start, so processed counts stay tied at zero and every
	// frame goes to lane 0.
	d := New(3, 4, LeastLoaded, time.Second, func(context.Context, int, domain.Frame) {})

	for i := 0; i < 4; i++ {
		require.True(t, d.Dispatch(frameOn("eth0", "10.0.0.1")))
	}
	stats := d.Stats()
	assert.Equal(t, 4, stats[0].Queued)
	assert.Equal(t, 0, stats[1].Queued)
	assert.Equal(t, 0, stats[2].Queued)
}

func TestDispatchDropsWhenLaneFull(t *testing.T) {
	d := New(1, 4, RoundRobin, time.Second, func(context.Context, int, domain.Frame) {})

	accepted := 0
	for i := 0; i < 10; i++ {
		if d.Dispatch(frameOn("eth0", "10.0.0.1")) {
			accepted++
		}
	}
	assert.Equal(t, 4, accepted)
	assert.Equal(t, uint64(6), d.Drops())
}

func TestStopDrainsQueuedFrames(t *testing.T) {
	rec := newRecorder()
	d := New(2, 256, RoundRobin, 5*time.Second, rec.handle)

	for i := 0; i < 100; i++ {
		require.True(t, d.Dispatch(frameOn("eth0", "10.0.0.1")))
	}
	d.Start(context.Background())
	d.Stop()

	assert.Equal(t, 100, rec.total())
	assert.False(t, d.Dispatch(frameOn("eth0", "10.0.0.1")), "dispatch after stop is rejected")
}

func TestStopForcesAfterGrace(t *testing.T) {
	block := make(chan struct{})
	d := New(1, 16, RoundRobin, 50*time.Millisecond, func(ctx context.Context, _ int, _ domain.Frame) {
		select {
		case <-block:
		case <-ctx.Done():
		}
	})
	d.Start(context.Background())
	require.True(t, d.Dispatch(frameOn("eth0", "10.0.0.1")))

	done := make(chan struct{})
	go func() {
		d.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not force worker shutdown")
	}
	close(block)
}
