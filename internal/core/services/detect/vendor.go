package detect

import (
	"fmt"
	"math"
	"strings"

	"github.com/safelink/safelink/internal/adapters/fingerprint"
	"github.com/safelink/safelink/internal/core/domain"
)

// VendorResult is the vendor checker's verdict on one frame.
type VendorResult struct {
	HasAnomaly bool     `json:"has_anomaly"`
	Anomalies  []string `json:"anomalies"`
	SrcVendor  string   `json:"src_vendor,omitempty"`
	DstVendor  string   `json:"dst_vendor,omitempty"`
	Confidence float64  `json:"confidence"`
}

// VendorChecker flags frames whose hardware addresses look forged: unknown
// OUIs, broadcast or multicast sources, locally administered bits.
type VendorChecker struct {
	resolver *fingerprint.Resolver
}

// NewVendorChecker builds a checker over the static OUI table.
func NewVendorChecker(cacheSize int) *VendorChecker {
	return &VendorChecker{resolver: fingerprint.NewResolver(cacheSize)}
}

// Check scores one frame. Confidence is a bounded sum in [0,1]; callers
// alert above 0.4.
func (c *VendorChecker) Check(frame domain.Frame) VendorResult {
	srcMAC := fingerprint.NormalizeMAC(frame.SrcMAC)
	dstMAC := fingerprint.NormalizeMAC(frame.DstMAC)

	result := VendorResult{
		SrcVendor: c.resolver.LookupVendor(srcMAC),
		DstVendor: c.resolver.LookupVendor(dstMAC),
	}

	if result.SrcVendor == "" {
		result.Anomalies = append(result.Anomalies,
			fmt.Sprintf("Unknown source MAC vendor (OUI: %s)", fingerprint.OUI(srcMAC)))
		result.Confidence += 0.3
	}
	if result.DstVendor == "" {
		result.Anomalies = append(result.Anomalies,
			fmt.Sprintf("Unknown destination MAC vendor (OUI: %s)", fingerprint.OUI(dstMAC)))
		result.Confidence += 0.1
	}
	if strings.HasPrefix(srcMAC, "FF:FF") || strings.HasPrefix(srcMAC, "01:00") {
		result.Anomalies = append(result.Anomalies,
			"Source MAC is broadcast/multicast (spoofing indicator)")
		result.Confidence += 0.4
	}
	if fingerprint.IsLocallyAdministered(srcMAC) {
		result.Anomalies = append(result.Anomalies,
			"Source MAC is locally administered (potential spoofing)")
		result.Confidence += 0.2
	}

	result.Confidence = math.Min(result.Confidence, 1.0)
	result.HasAnomaly = len(result.Anomalies) > 0
	return result
}
