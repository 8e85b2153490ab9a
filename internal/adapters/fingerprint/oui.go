// Package fingerprint resolves MAC addresses to hardware vendors through a
// static OUI (Organizationally Unique Identifier) table fronted by an LRU
// cache. Unknown or malformed addresses resolve to the empty string.
package fingerprint

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CommonOUIs maps OUI prefixes (first 3 octets, "XX:XX:XX") to vendor names.
var CommonOUIs = map[string]string{
	// Cisco
	"00:00:0C": "Cisco", "00:01:42": "Cisco", "00:01:43": "Cisco",
	"00:01:63": "Cisco", "00:01:64": "Cisco", "00:01:96": "Cisco",
	"00:01:97": "Cisco", "00:01:C7": "Cisco", "00:02:16": "Cisco",
	"00:02:17": "Cisco", "00:02:3D": "Cisco", "00:02:4A": "Cisco",
	"00:02:4B": "Cisco", "00:02:B9": "Cisco", "00:02:BA": "Cisco",
	"00:02:FC": "Cisco", "00:02:FD": "Cisco", "00:03:31": "Cisco",
	"00:03:32": "Cisco", "00:03:6B": "Cisco", "00:03:6C": "Cisco",
	"00:03:9F": "Cisco", "00:03:A0": "Cisco", "00:03:E3": "Cisco",
	"00:03:E4": "Cisco", "00:03:FD": "Cisco", "00:03:FE": "Cisco",

	// HP
	"00:00:0D": "HP", "00:01:E6": "HP", "00:01:E7": "HP",
	"00:02:A5": "HP", "00:04:EA": "HP", "00:08:02": "HP",
	"00:08:83": "HP", "00:0B:CD": "HP", "00:0E:7F": "HP",
	"00:0F:20": "HP", "00:10:83": "HP", "00:11:0A": "HP",
	"00:12:79": "HP", "00:13:21": "HP", "00:14:38": "HP",
	"00:14:C2": "HP", "00:15:60": "HP", "00:16:35": "HP",
	"00:17:08": "HP", "00:17:A4": "HP", "00:18:FE": "HP",
	"00:19:BB": "HP", "00:1A:4B": "HP", "00:1B:3F": "HP",
	"00:1C:2E": "HP", "00:1E:0B": "HP", "00:1F:29": "HP",
	"00:21:5A": "HP", "00:22:64": "HP", "00:23:7D": "HP",
	"00:24:81": "HP", "00:25:B3": "HP", "00:26:55": "HP",

	// Dell
	"00:06:5B": "Dell", "00:08:74": "Dell", "00:0B:DB": "Dell",
	"00:0D:56": "Dell", "00:0F:1F": "Dell", "00:11:43": "Dell",
	"00:12:3F": "Dell", "00:13:72": "Dell", "00:14:22": "Dell",
	"00:15:C5": "Dell", "00:16:F0": "Dell", "00:18:8B": "Dell",
	"00:19:B9": "Dell", "00:1A:A0": "Dell", "00:1C:23": "Dell",
	"00:1D:09": "Dell", "00:1E:4F": "Dell", "00:21:70": "Dell",
	"00:21:9B": "Dell", "00:22:19": "Dell", "00:23:AE": "Dell",
	"00:24:E8": "Dell", "00:25:64": "Dell", "00:26:B9": "Dell",

	// Intel
	"00:02:B3": "Intel", "00:03:47": "Intel", "00:04:23": "Intel",
	"00:07:E9": "Intel", "00:0C:F1": "Intel", "00:0E:0C": "Intel",
	"00:11:11": "Intel", "00:12:F0": "Intel", "00:13:02": "Intel",
	"00:13:20": "Intel", "00:13:CE": "Intel", "00:13:E8": "Intel",
	"00:15:00": "Intel", "00:15:17": "Intel", "00:16:6F": "Intel",
	"00:16:76": "Intel", "00:16:EA": "Intel", "00:16:EB": "Intel",
	"00:18:DE": "Intel", "00:19:D1": "Intel", "00:19:D2": "Intel",
	"00:1B:21": "Intel", "00:1B:77": "Intel", "00:1C:BF": "Intel",
	"00:1D:E0": "Intel", "00:1D:E1": "Intel", "00:1E:64": "Intel",
	"00:1E:65": "Intel", "00:1E:67": "Intel", "00:1F:3A": "Intel",
	"00:1F:3B": "Intel", "00:1F:3C": "Intel",

	// Broadcom
	"00:10:18": "Broadcom", "00:14:A4": "Broadcom", "00:17:42": "Broadcom",
	"00:19:A6": "Broadcom", "00:1C:C0": "Broadcom", "00:1E:8C": "Broadcom",
	"00:23:CD": "Broadcom", "00:25:9C": "Broadcom",

	// Realtek
	"00:E0:4C": "Realtek", "52:54:00": "Realtek", "00:01:6C": "Realtek",
	"00:0B:6A": "Realtek", "00:0C:76": "Realtek", "00:0E:2E": "Realtek",
	"00:11:D8": "Realtek", "00:19:21": "Realtek", "00:1C:4A": "Realtek",
	"00:1D:60": "Realtek", "00:1F:1F": "Realtek", "00:21:27": "Realtek",
	"00:24:1D": "Realtek",

	// Apple
	"00:03:93": "Apple", "00:0A:27": "Apple", "00:0A:95": "Apple",
	"00:0D:93": "Apple", "00:10:FA": "Apple", "00:11:24": "Apple",
	"00:14:51": "Apple", "00:16:CB": "Apple", "00:17:F2": "Apple",
	"00:19:E3": "Apple", "00:1B:63": "Apple", "00:1C:B3": "Apple",
	"00:1D:4F": "Apple", "00:1E:52": "Apple", "00:1E:C2": "Apple",
	"00:1F:5B": "Apple", "00:1F:F3": "Apple", "00:21:E9": "Apple",
	"00:22:41": "Apple", "00:23:12": "Apple", "00:23:32": "Apple",
	"00:23:6C": "Apple", "00:23:DF": "Apple", "00:24:36": "Apple",
	"00:25:00": "Apple", "00:25:4B": "Apple", "00:25:BC": "Apple",
	"00:26:08": "Apple", "00:26:4A": "Apple", "00:26:B0": "Apple",
	"00:26:BB": "Apple",

	// VMware
	"00:0C:29": "VMware", "00:05:69": "VMware", "00:1C:14": "VMware",
	"00:50:56": "VMware",

	// VirtualBox
	"08:00:27": "VirtualBox",

	// Microsoft
	"00:03:FF": "Microsoft", "00:0D:3A": "Microsoft", "00:12:5A": "Microsoft",
	"00:15:5D": "Microsoft", "00:17:FA": "Microsoft", "00:1D:D8": "Microsoft",
	"00:22:48": "Microsoft", "00:25:AE": "Microsoft",

	// D-Link
	"00:05:5D": "D-Link", "00:0D:88": "D-Link", "00:11:95": "D-Link",
	"00:13:46": "D-Link", "00:15:E9": "D-Link", "00:17:9A": "D-Link",
	"00:19:5B": "D-Link", "00:1B:11": "D-Link", "00:1C:F0": "D-Link",
	"00:1E:58": "D-Link", "00:21:91": "D-Link", "00:22:B0": "D-Link",
	"00:24:01": "D-Link", "00:26:5A": "D-Link",

	// TP-Link
	"00:27:19": "TP-Link", "10:FE:ED": "TP-Link", "14:CF:92": "TP-Link",
	"18:D6:C7": "TP-Link", "1C:3B:F3": "TP-Link", "24:A4:3C": "TP-Link",
	"50:C7:BF": "TP-Link", "54:A0:50": "TP-Link", "64:66:B3": "TP-Link",
	"84:16:F9": "TP-Link", "90:F6:52": "TP-Link", "C0:25:E9": "TP-Link",
	"E8:DE:27": "TP-Link", "F4:F2:6D": "TP-Link", "F8:1A:67": "TP-Link",
}

// Resolver answers vendor lookups against the static OUI table, caching
// per-MAC results.
type Resolver struct {
	table map[string]string
	cache *lru.Cache[string, string]
}

// NewResolver builds a resolver over the built-in OUI table.
func NewResolver(cacheSize int) *Resolver {
	if cacheSize < 1 {
		cacheSize = 1024
	}
	cache, _ := lru.New[string, string](cacheSize)
	return &Resolver{
		table: CommonOUIs,
		cache: cache,
	}
}

// NormalizeMAC canonicalizes a MAC address to uppercase XX:XX:XX:XX:XX:XX.
// Inputs using "-", "." or no separator are accepted; anything else is
// returned unchanged.
func NormalizeMAC(mac string) string {
	clean := strings.ToUpper(strings.NewReplacer(":", "", "-", "", ".", "").Replace(mac))
	if len(clean) != 12 {
		return mac
	}
	var b strings.Builder
	b.Grow(17)
	for i := 0; i < 12; i += 2 {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(clean[i : i+2])
	}
	return b.String()
}

// OUI extracts the first three octets of a MAC address in XX:XX:XX form.
// Returns "" when the address cannot be parsed.
func OUI(mac string) string {
	normalized := NormalizeMAC(mac)
	parts := strings.Split(normalized, ":")
	if len(parts) < 3 {
		return ""
	}
	return strings.ToUpper(strings.Join(parts[:3], ":"))
}

// LookupVendor returns the vendor name for a MAC address, or "" when the
// OUI is not in the table.
func (r *Resolver) LookupVendor(mac string) string {
	if v, ok := r.cache.Get(mac); ok {
		return v
	}

	oui := OUI(mac)
	if oui == "" {
		return ""
	}

	vendor := r.table[oui]
	r.cache.Add(mac, vendor)
	return vendor
}

// IsKnownVendor reports whether the MAC resolves to a vendor.
func (r *Resolver) IsKnownVendor(mac string) bool {
	return r.LookupVendor(mac) != ""
}

// IsLocallyAdministered reports whether the U/L bit of the first octet is
// set, marking a software-assigned address.
func IsLocallyAdministered(mac string) bool {
	normalized := NormalizeMAC(mac)
	if len(normalized) < 2 {
		return false
	}
	first := parseHexByte(normalized[0], normalized[1])
	return first&0x02 != 0
}

// Stats reports table and cache sizes.
func (r *Resolver) Stats() (tableEntries, cached, uniqueVendors int) {
	vendors := make(map[string]struct{}, 16)
	for _, v := range r.table {
		vendors[v] = struct{}{}
	}
	return len(r.table), r.cache.Len(), len(vendors)
}

func parseHexByte(hi, lo byte) byte {
	return hexNibble(hi)<<4 | hexNibble(lo)
}

func hexNibble(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	}
	return 0
}
