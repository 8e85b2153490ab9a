package domain

import (
	"time"
)

// ARP opcodes.
const (
	OpRequest = 1
	OpReply   = 2
)

// BroadcastMAC is the all-ones link-layer address.
const BroadcastMAC = "FF:FF:FF:FF:FF:FF"

// Frame is a single captured ARP frame, normalized for the pipeline.
// MAC addresses are uppercase colon-separated; protocol addresses are
// dotted-quad strings as seen on the wire.
type Frame struct {
	SrcMAC    string
	DstMAC    string
	SenderIP  string
	TargetIP  string
	Opcode    int
	Interface string
	// Captured is the wall-clock capture time; Ingress is a monotonic
	// reading taken at the same instant, used for interval math.
	Captured time.Time
	Ingress  time.Time
}

// IsGratuitous reports whether the frame announces its own binding:
// sender and target protocol addresses are equal, or it is a reply
// addressed to the broadcast MAC.
func (f Frame) IsGratuitous() bool {
	if f.SenderIP == f.TargetIP {
		return true
	}
	return f.Opcode == OpReply && f.DstMAC == BroadcastMAC
}

// IsProbe reports whether the frame is an address-conflict probe:
// a request with an unset sender protocol address.
func (f Frame) IsProbe() bool {
	return f.Opcode == OpRequest && f.SenderIP == "0.0.0.0"
}

// PacketInfo enriches a Frame with the analyzer's per-sender observations.
type PacketInfo struct {
	Frame
	Gratuitous   bool
	Probe        bool
	InterArrival time.Duration
	// Unsolicited is set on replies that matched no pending request.
	Unsolicited bool
}

// InterfaceStats tracks per-interface capture counters.
type InterfaceStats struct {
	Interface        string    `json:"interface"`
	PacketsCaptured  uint64    `json:"packets_captured"`
	PacketsProcessed uint64    `json:"packets_processed"`
	PacketsDropped   uint64    `json:"packets_dropped"`
	Errors           uint64    `json:"errors"`
	StartedAt        time.Time `json:"started_at"`
	LastPacket       time.Time `json:"last_packet,omitempty"`
	Active           bool      `json:"is_active"`
}

// PacketRate returns captured packets per second since StartedAt.
func (s InterfaceStats) PacketRate(now time.Time) float64 {
	up := now.Sub(s.StartedAt).Seconds()
	if up <= 0 {
		return 0
	}
	return float64(s.PacketsCaptured) / up
}

// SnifferStatus is the supervisor's lifecycle snapshot.
type SnifferStatus struct {
	Running    bool      `json:"running"`
	Interfaces []string  `json:"interfaces"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	UptimeSec  float64   `json:"uptime_s"`
}
