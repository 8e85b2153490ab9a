package detect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safelink/safelink/internal/core/domain"
)

func TestAnalyzerUnsolicitedReply(t *testing.T) {
	a := NewAnalyzer(1000, 5*time.Minute)
	now := time.Now()

	frame := domain.Frame{
		SrcMAC:   "00:11:22:33:44:55",
		DstMAC:   "00:00:00:00:00:00",
		SenderIP: "10.0.0.5",
		TargetIP: "10.0.0.6",
		Opcode:   domain.OpReply,
		Ingress:  now,
	}
	info := a.Analyze(frame)
	require.True(t, info.Unsolicited)

	res := a.Score(info)
	assert.True(t, res.HasAnomaly)
	assert.Contains(t, res.Anomalies, "Unsolicited ARP reply (no matching request)")
	assert.InDelta(t, 0.5, res.Severity, 1e-9)
	assert.Equal(t, uint64(1), a.Stats().UnmatchedReplies)
}

func TestAnalyzerMatchedReply(t *testing.T) {
	a := NewAnalyzer(1000, 5*time.Minute)
	now := time.Now()

	// Request from .6 for .5, then the answering reply from .5.
	a.Analyze(domain.Frame{
		SrcMAC: "AA:AA:AA:00:00:06", SenderIP: "10.0.0.6", TargetIP: "10.0.0.5",
		Opcode: domain.OpRequest, Ingress: now,
	})
	info := a.Analyze(domain.Frame{
		SrcMAC: "AA:AA:AA:00:00:05", SenderIP: "10.0.0.5", TargetIP: "10.0.0.6",
		Opcode: domain.OpReply, Ingress: now.Add(time.Second),
	})

	assert.False(t, info.Unsolicited)
	assert.Equal(t, uint64(0), a.Stats().UnmatchedReplies)
	assert.Equal(t, 0, a.Stats().PendingRequests)
}

func TestAnalyzerGratuitousAndProbe(t *testing.T) {
	a := NewAnalyzer(1000, 5*time.Minute)
	now := time.Now()

	grat := a.Analyze(domain.Frame{
		SrcMAC: "DE:AD:BE:EF:00:01", DstMAC: domain.BroadcastMAC,
		SenderIP: "192.168.1.9", TargetIP: "192.168.1.9",
		Opcode: domain.OpReply, Ingress: now,
	})
	assert.True(t, grat.Gratuitous)

	probe := a.Analyze(domain.Frame{
		SrcMAC: "DE:AD:BE:EF:00:02", DstMAC: domain.BroadcastMAC,
		SenderIP: "0.0.0.0", TargetIP: "192.168.1.10",
		Opcode: domain.OpRequest, Ingress: now,
	})
	assert.True(t, probe.Probe)

	stats := a.Stats()
	assert.Equal(t, uint64(2), stats.TotalPackets)
	assert.Equal(t, uint64(1), stats.GratuitousCount)
	assert.Equal(t, uint64(1), stats.ProbeCount)
}

func TestAnalyzerRapidPacketScoring(t *testing.T) {
	a := NewAnalyzer(1000, 5*time.Minute)
	now := time.Now()

	var info domain.PacketInfo
	for i := 0; i < 20; i++ {
		info = a.Analyze(domain.Frame{
			SrcMAC: "AA:BB:CC:00:00:01", SenderIP: "10.1.1.1", TargetIP: "10.1.1.2",
			Opcode: domain.OpRequest, Ingress: now.Add(time.Duration(i) * 10 * time.Millisecond),
		})
	}

	res := a.Score(info)
	assert.True(t, res.HasAnomaly)
	// rate > 10/s and inter-arrival < 100ms both fire
	assert.GreaterOrEqual(t, res.Severity, 0.5)
	assert.Greater(t, res.Features.PacketRate, 10.0)
	assert.Greater(t, res.Features.AvgInterArrival, 0.0)
}

func TestAnalyzerHistoryBounded(t *testing.T) {
	a := NewAnalyzer(10, 5*time.Minute)
	now := time.Now()

	for i := 0; i < 50; i++ {
		a.Analyze(domain.Frame{
			SrcMAC: "AA:BB:CC:00:00:01", SenderIP: "10.1.1.1", TargetIP: "10.1.1.2",
			Opcode: domain.OpRequest, Ingress: now.Add(time.Duration(i) * time.Second),
		})
	}

	a.mu.Lock()
	n := len(a.history["10.1.1.1"])
	a.mu.Unlock()
	assert.Equal(t, 10, n)
}

func TestAnalyzerSweep(t *testing.T) {
	a := NewAnalyzer(1000, 5*time.Minute)
	now := time.Now()

	a.Analyze(domain.Frame{
		SrcMAC: "AA:AA:AA:00:00:01", SenderIP: "10.0.0.1", TargetIP: "10.0.0.2",
		Opcode: domain.OpRequest, Ingress: now,
	})
	a.Analyze(domain.Frame{
		SrcMAC: "AA:AA:AA:00:00:03", SenderIP: "10.0.0.3", TargetIP: "10.0.0.4",
		Opcode: domain.OpRequest, Ingress: now.Add(4 * time.Minute),
	})

	removed := a.Sweep(now.Add(6 * time.Minute))
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, a.Stats().PendingRequests)
}
