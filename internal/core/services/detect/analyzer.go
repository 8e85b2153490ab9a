package detect

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/safelink/safelink/internal/core/domain"
)

// AnalyzerStats is a snapshot of the analyzer's counters.
type AnalyzerStats struct {
	TotalPackets      uint64  `json:"total_packets"`
	GratuitousCount   uint64  `json:"gratuitous_count"`
	ProbeCount        uint64  `json:"probe_count"`
	RequestCount      uint64  `json:"request_count"`
	ReplyCount        uint64  `json:"reply_count"`
	UnmatchedReplies  uint64  `json:"unmatched_replies"`
	AvgInterArrival   float64 `json:"avg_inter_arrival"`
	TrackedSenders    int     `json:"tracked_senders"`
	PendingRequests   int     `json:"pending_requests"`
	GratuitousPercent float64 `json:"gratuitous_percentage"`
	ProbePercent      float64 `json:"probe_percentage"`
}

// TimingFeatures summarizes inter-arrival behavior for one sender.
type TimingFeatures struct {
	MinInterArrival float64 `json:"min_inter_arrival"`
	MaxInterArrival float64 `json:"max_inter_arrival"`
	AvgInterArrival float64 `json:"avg_inter_arrival"`
	StdInterArrival float64 `json:"std_inter_arrival"`
	PacketRate      float64 `json:"packet_rate"`
}

// AnomalyResult is the analyzer's verdict on one packet.
type AnomalyResult struct {
	HasAnomaly bool           `json:"has_anomaly"`
	Anomalies  []string       `json:"anomalies"`
	Severity   float64        `json:"severity"`
	Features   TimingFeatures `json:"features"`
}

type historyEntry struct {
	at           time.Time
	interArrival time.Duration
}

type pendingKey struct {
	senderIP string
	targetIP string
}

// Analyzer tracks per-sender ARP behavior: gratuitous and probe frames,
// inter-arrival timing and request-reply correlation.
type Analyzer struct {
	mu         sync.Mutex
	maxHistory int
	pendingTTL time.Duration

	history  map[string][]historyEntry // sender ip -> bounded ring
	lastSeen map[string]time.Time
	pending  map[pendingKey]time.Time

	totalPackets     uint64
	gratuitousCount  uint64
	probeCount       uint64
	requestCount     uint64
	replyCount       uint64
	unmatchedReplies uint64
	avgInterArrival  float64
}

// NewAnalyzer builds an analyzer keeping up to maxHistory frames per sender
// and expiring pending requests after pendingTTL.
func NewAnalyzer(maxHistory int, pendingTTL time.Duration) *Analyzer {
	if maxHistory < 1 {
		maxHistory = 1000
	}
	return &Analyzer{
		maxHistory: maxHistory,
		pendingTTL: pendingTTL,
		history:    make(map[string][]historyEntry),
		lastSeen:   make(map[string]time.Time),
		pending:    make(map[pendingKey]time.Time),
	}
}

// Analyze enriches a frame with per-sender observations and updates the
// analyzer state. Unsolicited is set on replies matching no pending request;
// the matching request, if any, is consumed.
func (a *Analyzer) Analyze(frame domain.Frame) domain.PacketInfo {
	now := frame.Ingress
	if now.IsZero() {
		now = time.Now()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var interArrival time.Duration
	if last, ok := a.lastSeen[frame.SenderIP]; ok {
		interArrival = now.Sub(last)
	}
	a.lastSeen[frame.SenderIP] = now

	info := domain.PacketInfo{
		Frame:        frame,
		Gratuitous:   frame.IsGratuitous(),
		Probe:        frame.IsProbe(),
		InterArrival: interArrival,
	}

	a.totalPackets++
	if info.Gratuitous {
		a.gratuitousCount++
	}
	if info.Probe {
		a.probeCount++
	}
	switch frame.Opcode {
	case domain.OpRequest:
		a.requestCount++
		a.pending[pendingKey{frame.SenderIP, frame.TargetIP}] = now
	case domain.OpReply:
		a.replyCount++
		key := pendingKey{frame.TargetIP, frame.SenderIP}
		if _, ok := a.pending[key]; ok {
			delete(a.pending, key)
		} else {
			a.unmatchedReplies++
			info.Unsolicited = true
		}
	}

	if interArrival > 0 {
		n := float64(a.totalPackets)
		a.avgInterArrival = (a.avgInterArrival*(n-1) + interArrival.Seconds()) / n
	}

	ring := append(a.history[frame.SenderIP], historyEntry{at: now, interArrival: interArrival})
	if len(ring) > a.maxHistory {
		ring = ring[len(ring)-a.maxHistory:]
	}
	a.history[frame.SenderIP] = ring

	return info
}

// Score turns an analyzed packet into an anomaly verdict. The severity is a
// bounded sum in [0,1]; callers alert above 0.5.
func (a *Analyzer) Score(info domain.PacketInfo) AnomalyResult {
	result := AnomalyResult{Features: a.TimingFeatures(info.SenderIP)}

	if info.Gratuitous {
		result.Anomalies = append(result.Anomalies, "Gratuitous ARP detected")
		result.Severity += 0.4
	}
	if info.Probe {
		result.Anomalies = append(result.Anomalies, "ARP probe detected")
		result.Severity += 0.1
	}
	if result.Features.PacketRate > 10.0 {
		result.Anomalies = append(result.Anomalies,
			fmt.Sprintf("High packet rate: %.2f pkt/s", result.Features.PacketRate))
		result.Severity += 0.3
	}
	if info.InterArrival > 0 && info.InterArrival < 100*time.Millisecond {
		result.Anomalies = append(result.Anomalies,
			fmt.Sprintf("Rapid packets: %.1fms interval", float64(info.InterArrival)/float64(time.Millisecond)))
		result.Severity += 0.2
	}
	if info.Opcode == domain.OpReply && info.Unsolicited {
		result.Anomalies = append(result.Anomalies, "Unsolicited ARP reply (no matching request)")
		result.Severity += 0.5
	}

	result.Severity = math.Min(result.Severity, 1.0)
	result.HasAnomaly = len(result.Anomalies) > 0
	return result
}

// TimingFeatures computes min/max/mean/std inter-arrival and packet rate for
// one sender from its bounded history.
func (a *Analyzer) TimingFeatures(senderIP string) TimingFeatures {
	a.mu.Lock()
	ring := a.history[senderIP]
	entries := make([]historyEntry, len(ring))
	copy(entries, ring)
	a.mu.Unlock()

	var f TimingFeatures
	if len(entries) < 2 {
		return f
	}

	var intervals []float64
	for _, e := range entries {
		if e.interArrival > 0 {
			intervals = append(intervals, e.interArrival.Seconds())
		}
	}
	if len(intervals) == 0 {
		return f
	}

	f.MinInterArrival = intervals[0]
	f.MaxInterArrival = intervals[0]
	var sum float64
	for _, v := range intervals {
		if v < f.MinInterArrival {
			f.MinInterArrival = v
		}
		if v > f.MaxInterArrival {
			f.MaxInterArrival = v
		}
		sum += v
	}
	f.AvgInterArrival = sum / float64(len(intervals))

	var variance float64
	for _, v := range intervals {
		d := v - f.AvgInterArrival
		variance += d * d
	}
	f.StdInterArrival = math.Sqrt(variance / float64(len(intervals)))

	span := entries[len(entries)-1].at.Sub(entries[0].at).Seconds()
	if span > 0 {
		f.PacketRate = float64(len(entries)) / span
	}
	return f
}

// Stats snapshots the analyzer counters.
func (a *Analyzer) Stats() AnalyzerStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	total := a.totalPackets
	if total == 0 {
		total = 1
	}
	return AnalyzerStats{
		TotalPackets:      a.totalPackets,
		GratuitousCount:   a.gratuitousCount,
		ProbeCount:        a.probeCount,
		RequestCount:      a.requestCount,
		ReplyCount:        a.replyCount,
		UnmatchedReplies:  a.unmatchedReplies,
		AvgInterArrival:   a.avgInterArrival,
		TrackedSenders:    len(a.history),
		PendingRequests:   len(a.pending),
		GratuitousPercent: float64(a.gratuitousCount) / float64(total) * 100,
		ProbePercent:      float64(a.probeCount) / float64(total) * 100,
	}
}

// Sweep drops pending requests older than the TTL. Returns the number of
// entries removed.
func (a *Analyzer) Sweep(now time.Time) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	removed := 0
	for key, at := range a.pending {
		if now.Sub(at) > a.pendingTTL {
			delete(a.pending, key)
			removed++
		}
	}
	return removed
}
