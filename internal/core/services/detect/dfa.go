// Package detect holds the deterministic detection stages of the pipeline:
// the rule-based filter, the stateful ARP analyzer and the vendor checker.
package detect

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/safelink/safelink/internal/core/domain"
)

const dfaShards = 16

// DFAResult is the outcome of running a frame through the rule filter.
type DFAResult struct {
	Suspicious bool
	Reason     string
	Details    map[string]any
}

type bindingShard struct {
	mu       sync.Mutex
	bindings map[string]string // sender_ip -> current mac
}

type gratShard struct {
	mu     sync.Mutex
	deques map[string][]time.Time // src mac -> recent timestamps
}

// DFAFilter applies deterministic ARP state rules: IP-MAC binding conflicts
// and gratuitous flood counting. Both maps are hash-partitioned so frames
// from unrelated senders never contend on the same mutex.
type DFAFilter struct {
	threshold int
	window    time.Duration

	bindings [dfaShards]bindingShard
	grat     [dfaShards]gratShard
}

// NewDFAFilter builds a filter with the given flood threshold and window.
func NewDFAFilter(threshold int, window time.Duration) *DFAFilter {
	f := &DFAFilter{threshold: threshold, window: window}
	for i := range f.bindings {
		f.bindings[i].bindings = make(map[string]string)
	}
	for i := range f.grat {
		f.grat[i].deques = make(map[string][]time.Time)
	}
	return f
}

func shardIndex(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % dfaShards)
}

// Check runs the rule set against one frame. Rule order matters: a binding
// conflict reports immediately and the frame still counts toward the flood
// deque on the next frame from that sender.
func (f *DFAFilter) Check(frame domain.Frame) DFAResult {
	if frame.SenderIP == "" || frame.SrcMAC == "" {
		return DFAResult{}
	}

	// Rule 1: IP-MAC mapping conflict.
	bs := &f.bindings[shardIndex(frame.SenderIP)]
	bs.mu.Lock()
	prev, bound := bs.bindings[frame.SenderIP]
	if bound && prev != frame.SrcMAC {
		bs.bindings[frame.SenderIP] = frame.SrcMAC
		bs.mu.Unlock()
		return DFAResult{
			Suspicious: true,
			Reason: fmt.Sprintf("IP-MAC conflict: %s previous %s now %s",
				frame.SenderIP, prev, frame.SrcMAC),
			Details: map[string]any{
				"ip":       frame.SenderIP,
				"prev_mac": prev,
				"new_mac":  frame.SrcMAC,
			},
		}
	}
	if !bound {
		bs.bindings[frame.SenderIP] = frame.SrcMAC
	}
	bs.mu.Unlock()

	// Rule 2: gratuitous flood. Append now, expire entries older than the
	// window, alert when the deque exceeds the threshold.
	now := frame.Ingress
	if now.IsZero() {
		now = time.Now()
	}
	gs := &f.grat[shardIndex(frame.SrcMAC)]
	gs.mu.Lock()
	dq := append(gs.deques[frame.SrcMAC], now)
	cutoff := now.Add(-f.window)
	for len(dq) > 0 && dq[0].Before(cutoff) {
		dq = dq[1:]
	}
	gs.deques[frame.SrcMAC] = dq
	count := len(dq)
	gs.mu.Unlock()

	if count > f.threshold {
		return DFAResult{
			Suspicious: true,
			Reason: fmt.Sprintf("Excessive gratuitous ARPs from %s (%d in %gs)",
				frame.SrcMAC, count, f.window.Seconds()),
			Details: map[string]any{
				"mac":   frame.SrcMAC,
				"count": count,
			},
		}
	}

	return DFAResult{}
}

// Binding returns the currently bound MAC for a sender IP.
func (f *DFAFilter) Binding(senderIP string) (string, bool) {
	bs := &f.bindings[shardIndex(senderIP)]
	bs.mu.Lock()
	defer bs.mu.Unlock()
	mac, ok := bs.bindings[senderIP]
	return mac, ok
}

// BindingCount reports the number of tracked IP-MAC bindings.
func (f *DFAFilter) BindingCount() int {
	total := 0
	for i := range f.bindings {
		f.bindings[i].mu.Lock()
		total += len(f.bindings[i].bindings)
		f.bindings[i].mu.Unlock()
	}
	return total
}
