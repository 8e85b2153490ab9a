package feature

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/safelink/safelink/internal/core/domain"
)

// DefaultVersion is the schema version registered at startup.
const DefaultVersion = "1.0.0"

// DefaultFeatures is the ordered feature list of the built-in schema. The
// first thirteen positions are shared with the alert encoding used during
// continuous learning; the rest are live-capture observations.
var DefaultFeatures = []string{
	"src_ip_octet_1", "src_ip_octet_2", "src_ip_octet_3", "src_ip_octet_4",
	"src_mac_byte_1", "src_mac_byte_2", "src_mac_byte_3",
	"src_mac_byte_4", "src_mac_byte_5", "src_mac_byte_6",
	"module_indicator",
	"hour_of_day", "day_of_week",
	"arp_opcode",
	"is_gratuitous", "is_probe",
	"inter_arrival", "packet_rate",
	"unsolicited_reply",
	"dst_is_broadcast",
}

// DefaultFeatureTypes maps the default features to their value types.
func DefaultFeatureTypes() map[string]string {
	types := make(map[string]string, len(DefaultFeatures))
	for _, f := range DefaultFeatures {
		types[f] = "float"
	}
	return types
}

// Extractor produces fixed-width vectors for a schema. It keeps per-sender
// state for the frequency window and inter-arrival positions.
type Extractor struct {
	schema Schema
	index  map[string]int

	mu       sync.Mutex
	lastSeen map[string]time.Time
	window   map[string][]time.Time
}

// frequency window for the packet_rate feature
const rateWindow = time.Second

// NewExtractor builds an extractor for the given schema.
func NewExtractor(schema Schema) *Extractor {
	idx := make(map[string]int, len(schema.Features))
	for i, name := range schema.Features {
		idx[name] = i
	}
	return &Extractor{
		schema:   schema,
		index:    idx,
		lastSeen: make(map[string]time.Time),
		window:   make(map[string][]time.Time),
	}
}

// Schema returns the schema this extractor encodes against.
func (e *Extractor) Schema() Schema { return e.schema }

func (e *Extractor) set(vec []float64, name string, value float64) {
	if i, ok := e.index[name]; ok {
		vec[i] = value
	}
}

// FromFrame encodes a live frame against the schema. Features the frame
// cannot provide stay zero.
func (e *Extractor) FromFrame(info domain.PacketInfo) []float64 {
	vec := make([]float64, e.schema.Width())

	encodeIP(e, vec, info.SenderIP)
	encodeMAC(e, vec, info.SrcMAC)

	at := info.Captured
	if at.IsZero() {
		at = time.Now()
	}
	e.set(vec, "hour_of_day", float64(at.Hour())/24.0)
	e.set(vec, "day_of_week", float64(weekdayMondayFirst(at))/7.0)

	e.set(vec, "arp_opcode", float64(info.Opcode))
	if info.Gratuitous {
		e.set(vec, "is_gratuitous", 1)
	}
	if info.Probe {
		e.set(vec, "is_probe", 1)
	}
	if info.Unsolicited {
		e.set(vec, "unsolicited_reply", 1)
	}
	if info.DstMAC == domain.BroadcastMAC {
		e.set(vec, "dst_is_broadcast", 1)
	}

	now := info.Ingress
	if now.IsZero() {
		now = time.Now()
	}
	e.mu.Lock()
	if last, ok := e.lastSeen[info.SenderIP]; ok {
		e.set(vec, "inter_arrival", now.Sub(last).Seconds())
	}
	e.lastSeen[info.SenderIP] = now

	win := e.window[info.SenderIP]
	kept := win[:0]
	for _, t := range win {
		if now.Sub(t) <= rateWindow {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	e.window[info.SenderIP] = kept
	e.set(vec, "packet_rate", float64(len(kept))/rateWindow.Seconds())
	e.mu.Unlock()

	return vec
}

// FromAlert encodes a stored alert for weakly-labeled training: IP octets,
// MAC bytes, a module indicator and calendar positions; every other schema
// position stays zero. The narrower encoding is intentional; alerts do not
// carry live-capture observations.
func (e *Extractor) FromAlert(alert domain.Alert) []float64 {
	vec := make([]float64, e.schema.Width())

	encodeIP(e, vec, alert.SrcIP)
	encodeMAC(e, vec, alert.SrcMAC)

	if alert.Module == domain.ModuleANN {
		e.set(vec, "module_indicator", 1)
	}
	if !alert.Timestamp.IsZero() {
		e.set(vec, "hour_of_day", float64(alert.Timestamp.Hour())/24.0)
		e.set(vec, "day_of_week", float64(weekdayMondayFirst(alert.Timestamp))/7.0)
	}
	return vec
}

func encodeIP(e *Extractor, vec []float64, ip string) {
	parts := strings.Split(ip, ".")
	if len(parts) != 4 {
		return
	}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return
		}
		e.set(vec, "src_ip_octet_"+strconv.Itoa(i+1), float64(n))
	}
}

func encodeMAC(e *Extractor, vec []float64, mac string) {
	parts := strings.Split(mac, ":")
	if len(parts) != 6 {
		return
	}
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return
		}
		e.set(vec, "src_mac_byte_"+strconv.Itoa(i+1), float64(n))
	}
}

// weekdayMondayFirst maps Monday to 0 through Sunday to 6.
func weekdayMondayFirst(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}
