package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safelink/safelink/internal/core/domain"
)

// scriptedSource emits a fixed frame sequence, then blocks until canceled.
type scriptedSource struct {
	iface  string
	frames []domain.Frame
	closed bool
}

func (s *scriptedSource) Run(ctx context.Context, emit func(domain.Frame)) error {
	for _, f := range s.frames {
		emit(f)
	}
	<-ctx.Done()
	return nil
}

func (s *scriptedSource) Close() { s.closed = true }

func testFrame(iface, senderIP string) domain.Frame {
	now := time.Now()
	return domain.Frame{
		SrcMAC:    "00:50:56:00:00:01",
		DstMAC:    domain.BroadcastMAC,
		SenderIP:  senderIP,
		TargetIP:  "192.168.1.1",
		Opcode:    domain.OpRequest,
		Interface: iface,
		Captured:  now,
		Ingress:   now,
	}
}

type collectSink struct {
	mu     sync.Mutex
	frames []domain.Frame
}

func (c *collectSink) accept(f domain.Frame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
	return true
}

func (c *collectSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func TestEngineCapturesIntoSink(t *testing.T) {
	src := &scriptedSource{iface: "eth0"}
	for i := 0; i < 5; i++ {
		src.frames = append(src.frames, testFrame("eth0", fmt.Sprintf("10.0.0.%d", i+1)))
	}
	reg := NewRegistry()
	eng := NewEngine(func(string) (FrameSource, error) { return src, nil }, reg, 64)

	sink := &collectSink{}
	require.NoError(t, eng.Start(context.Background(), []string{"eth0"}, sink.accept))

	require.Eventually(t, func() bool { return sink.count() == 5 },
		2*time.Second, 10*time.Millisecond)

	stats, ok := reg.Get("eth0")
	require.True(t, ok)
	assert.Equal(t, uint64(5), stats.PacketsCaptured)
	assert.True(t, stats.Active)

	eng.Stop()
	assert.True(t, src.closed)
	stats, _ = reg.Get("eth0")
	assert.False(t, stats.Active)
	assert.Equal(t, uint64(5), stats.PacketsProcessed)
}

func TestEngineSkipsUnopenableInterface(t *testing.T) {
	reg := NewRegistry()
	open := func(iface string) (FrameSource, error) {
		if iface == "bad0" {
			return nil, ErrCaptureUnavailable
		}
		return &scriptedSource{iface: iface}, nil
	}
	eng := NewEngine(open, reg, 64)

	require.NoError(t, eng.Start(context.Background(), []string{"bad0", "eth0"}, func(domain.Frame) bool { return true }))
	defer eng.Stop()

	bad, ok := reg.Get("bad0")
	require.True(t, ok)
	assert.Equal(t, uint64(1), bad.Errors)
	assert.False(t, bad.Active)

	good, _ := reg.Get("eth0")
	assert.True(t, good.Active)
}

func TestEngineFailsWhenNothingOpens(t *testing.T) {
	eng := NewEngine(func(string) (FrameSource, error) { return nil, ErrCaptureUnavailable },
		NewRegistry(), 64)
	err := eng.Start(context.Background(), []string{"bad0", "bad1"}, func(domain.Frame) bool { return true })
	assert.True(t, errors.Is(err, ErrCaptureUnavailable))
}

func TestEnginePushDropsOldestWhenFull(t *testing.T) {
	reg := NewRegistry()
	eng := NewEngine(nil, reg, 4)

	// No pump running: frames accumulate in the buffer.
	for i := 0; i < 10; i++ {
		eng.push(testFrame("eth0", fmt.Sprintf("10.0.0.%d", i+1)))
	}

	assert.Len(t, eng.buffer, 4)
	stats, _ := reg.Get("eth0")
	assert.Equal(t, uint64(10), stats.PacketsCaptured)
	assert.Equal(t, uint64(6), stats.PacketsDropped)

	// Survivors are the newest frames, oldest first.
	want := []string{"10.0.0.7", "10.0.0.8", "10.0.0.9", "10.0.0.10"}
	for _, ip := range want {
		f := <-eng.buffer
		assert.Equal(t, ip, f.SenderIP)
	}
}

func TestEngineRestart(t *testing.T) {
	reg := NewRegistry()
	open := func(iface string) (FrameSource, error) {
		return &scriptedSource{iface: iface, frames: []domain.Frame{testFrame(iface, "10.0.0.1")}}, nil
	}
	eng := NewEngine(open, reg, 16)

	sink := &collectSink{}
	require.NoError(t, eng.Start(context.Background(), []string{"eth0"}, sink.accept))
	require.Eventually(t, func() bool { return sink.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	eng.Stop()

	require.NoError(t, eng.Start(context.Background(), []string{"eth0"}, sink.accept))
	require.Eventually(t, func() bool { return sink.count() == 2 }, 2*time.Second, 10*time.Millisecond)
	eng.Stop()
}

func TestRegistryPacketRate(t *testing.T) {
	reg := NewRegistry()
	reg.Register("eth0")
	for i := 0; i < 10; i++ {
		reg.MarkCaptured("eth0", time.Now())
	}
	stats, ok := reg.Get("eth0")
	require.True(t, ok)
	rate := stats.PacketRate(stats.StartedAt.Add(2 * time.Second))
	assert.InDelta(t, 5.0, rate, 1e-9)

	all := reg.Stats()
	require.Len(t, all, 1)
	assert.Equal(t, "eth0", all[0].Interface)
}
