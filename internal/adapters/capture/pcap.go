package capture

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/safelink/safelink/internal/core/domain"
)

const snapLen = 65536

// liveSource wraps a promiscuous pcap handle filtered to ARP traffic.
type liveSource struct {
	iface  string
	handle *pcap.Handle
}

// OpenLive opens an interface for ARP capture with default settings.
func OpenLive(iface string) (FrameSource, error) {
	return openLive(iface, snapLen, true)
}

// NewLiveOpener returns an Opener capturing with the given snap length and
// promiscuous flag. A snaplen <= 0 falls back to the default.
func NewLiveOpener(snaplen int, promisc bool) Opener {
	return func(iface string) (FrameSource, error) {
		return openLive(iface, snaplen, promisc)
	}
}

func openLive(iface string, snaplen int, promisc bool) (FrameSource, error) {
	if snaplen <= 0 {
		snaplen = snapLen
	}
	handle, err := pcap.OpenLive(iface, int32(snaplen), promisc, pcap.BlockForever)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCaptureUnavailable, iface, err)
	}
	if err := handle.SetBPFFilter("arp"); err != nil {
		handle.Close()
		return nil, fmt.Errorf("%w: %s: bpf: %v", ErrCaptureUnavailable, iface, err)
	}
	return &liveSource{iface: iface, handle: handle}, nil
}

func (s *liveSource) Run(ctx context.Context, emit func(domain.Frame)) error {
	src := gopacket.NewPacketSource(s.handle, s.handle.LinkType())
	in := src.Packets()
	for {
		select {
		case <-ctx.Done():
			return nil
		case pkt, ok := <-in:
			if !ok {
				return fmt.Errorf("packet source closed on %s", s.iface)
			}
			if frame, ok := FrameFromPacket(s.iface, pkt); ok {
				emit(frame)
			}
		}
	}
}

func (s *liveSource) Close() {
	s.handle.Close()
}

// FrameFromPacket normalizes a captured ARP packet. MAC addresses come out
// uppercase colon-separated, protocol addresses dotted-quad.
func FrameFromPacket(iface string, pkt gopacket.Packet) (domain.Frame, bool) {
	arpLayer := pkt.Layer(layers.LayerTypeARP)
	if arpLayer == nil {
		return domain.Frame{}, false
	}
	arp := arpLayer.(*layers.ARP)

	captured := pkt.Metadata().Timestamp
	if captured.IsZero() {
		captured = time.Now()
	}
	frame := domain.Frame{
		SrcMAC:    formatMAC(arp.SourceHwAddress),
		SenderIP:  formatIP(arp.SourceProtAddress),
		TargetIP:  formatIP(arp.DstProtAddress),
		Opcode:    int(arp.Operation),
		Interface: iface,
		Captured:  captured,
		Ingress:   time.Now(),
	}
	if eth := pkt.Layer(layers.LayerTypeEthernet); eth != nil {
		frame.DstMAC = formatMAC(eth.(*layers.Ethernet).DstMAC)
	} else {
		frame.DstMAC = formatMAC(arp.DstHwAddress)
	}
	return frame, true
}

func formatMAC(hw net.HardwareAddr) string {
	return strings.ToUpper(hw.String())
}

func formatIP(b []byte) string {
	ip := net.IP(b)
	if v4 := ip.To4(); v4 != nil {
		return v4.String()
	}
	return ip.String()
}

// InterfaceInfo describes a capturable interface.
type InterfaceInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Addresses   []string `json:"addresses,omitempty"`
}

// Discover lists the host's capture-capable interfaces.
func Discover() ([]InterfaceInfo, error) {
	devs, err := pcap.FindAllDevs()
	if err != nil {
		return nil, err
	}
	out := make([]InterfaceInfo, 0, len(devs))
	for _, dev := range devs {
		info := InterfaceInfo{Name: dev.Name, Description: dev.Description}
		for _, addr := range dev.Addresses {
			if addr.IP != nil {
				info.Addresses = append(info.Addresses, addr.IP.String())
			}
		}
		out = append(out, info)
	}
	return out, nil
}
