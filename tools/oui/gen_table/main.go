// Command gen_table regenerates the static OUI table in
// internal/adapters/fingerprint from the IEEE OUI registry. Only prefixes
// belonging to the vendor families the vendor checker tracks are kept, so
// the table stays small enough to compile in.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/safelink/safelink/internal/adapters/fingerprint"
)

const ieeeOUIURL = "https://standards-oui.ieee.org/oui/oui.csv"

// canonical maps a lowercase substring of the IEEE organization name to the
// vendor name used by the table.
var canonical = []struct {
	match  string
	vendor string
}{
	{"cisco", "Cisco"},
	{"hewlett", "HP"},
	{"dell", "Dell"},
	{"apple", "Apple"},
	{"intel corporat", "Intel"},
	{"microsoft", "Microsoft"},
	{"vmware", "VMware"},
	{"pcs systemtechnik", "VirtualBox"},
	{"realtek", "Realtek"},
	{"tp-link", "TP-Link"},
	{"d-link", "D-Link"},
	{"broadcom", "Broadcom"},
}

func main() {
	inPath := flag.String("in", "", "local IEEE oui.csv (downloads when empty)")
	outPath := flag.String("out", "", "output file (stdout when empty)")
	flag.Parse()

	var src io.ReadCloser
	var err error
	if *inPath != "" {
		src, err = os.Open(*inPath)
		if err != nil {
			log.Fatalf("Failed to open %s: %v", *inPath, err)
		}
	} else {
		log.Printf("Downloading IEEE OUI registry from %s...", ieeeOUIURL)
		resp, err := http.Get(ieeeOUIURL)
		if err != nil {
			log.Fatalf("HTTP GET failed: %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			log.Fatalf("HTTP status %d", resp.StatusCode)
		}
		src = resp.Body
	}
	defer src.Close()

	table, err := parseRegistry(src)
	if err != nil {
		log.Fatalf("Failed to parse registry: %v", err)
	}
	log.Printf("Matched %d prefixes across %d vendor families", len(table), len(vendorSet(table)))

	// Every emitted key must be exactly what the resolver derives from a
	// full MAC, or lookups would silently miss.
	for prefix := range table {
		if got := fingerprint.OUI(prefix + ":00:00:00"); got != prefix {
			log.Fatalf("Prefix %q does not round-trip through the resolver (got %q)", prefix, got)
		}
	}

	out := os.Stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			log.Fatalf("Failed to create %s: %v", *outPath, err)
		}
		defer f.Close()
		out = f
	}
	writeTable(out, table)
}

// parseRegistry reads the IEEE CSV (Registry,Assignment,Organization Name,
// Organization Address) and keeps assignments whose organization matches a
// tracked vendor family.
func parseRegistry(r io.Reader) (map[string]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	if _, err := reader.Read(); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	table := make(map[string]string)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Printf("Warning: skipping malformed line: %v", err)
			continue
		}
		if len(record) < 3 {
			continue
		}

		prefix := normalizePrefix(record[1])
		if prefix == "" {
			continue
		}
		vendor := canonicalVendor(record[2])
		if vendor == "" {
			continue
		}
		table[prefix] = vendor
	}
	return table, nil
}

// normalizePrefix converts an IEEE assignment (6 hex chars, or already
// separated) to the XX:XX:XX form the resolver uses.
func normalizePrefix(prefix string) string {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	prefix = strings.ReplaceAll(prefix, "-", ":")
	prefix = strings.ReplaceAll(prefix, ".", ":")
	if len(prefix) >= 8 && prefix[2] == ':' && prefix[5] == ':' {
		return prefix[:8]
	}
	if len(prefix) >= 6 {
		return fmt.Sprintf("%s:%s:%s", prefix[0:2], prefix[2:4], prefix[4:6])
	}
	return ""
}

func canonicalVendor(org string) string {
	lower := strings.ToLower(org)
	for _, c := range canonical {
		if strings.Contains(lower, c.match) {
			return c.vendor
		}
	}
	return ""
}

func vendorSet(table map[string]string) map[string]bool {
	set := make(map[string]bool)
	for _, v := range table {
		set[v] = true
	}
	return set
}

// writeTable emits the map literal grouped by vendor, three entries per
// line, in the layout of internal/adapters/fingerprint/oui.go.
func writeTable(w io.Writer, table map[string]string) {
	byVendor := make(map[string][]string)
	for prefix, vendor := range table {
		byVendor[vendor] = append(byVendor[vendor], prefix)
	}
	vendors := make([]string, 0, len(byVendor))
	for v := range byVendor {
		vendors = append(vendors, v)
	}
	sort.Strings(vendors)

	fmt.Fprintln(w, "var CommonOUIs = map[string]string{")
	for vi, vendor := range vendors {
		prefixes := byVendor[vendor]
		sort.Strings(prefixes)
		if vi > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "\t// %s\n", vendor)
		for i, prefix := range prefixes {
			if i%3 == 0 {
				if i > 0 {
					fmt.Fprintln(w)
				}
				fmt.Fprint(w, "\t")
			} else {
				fmt.Fprint(w, " ")
			}
			fmt.Fprintf(w, "%q: %q,", prefix, vendor)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w, "}")
}
