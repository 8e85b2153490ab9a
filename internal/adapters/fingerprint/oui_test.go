package fingerprint

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeMAC(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"colon separated", "00:0c:29:aa:bb:cc", "00:0C:29:AA:BB:CC"},
		{"dash separated", "00-0C-29-AA-BB-CC", "00:0C:29:AA:BB:CC"},
		{"dot separated", "000c.29aa.bbcc", "00:0C:29:AA:BB:CC"},
		{"no separator", "000c29aabbcc", "00:0C:29:AA:BB:CC"},
		{"too short", "00:0c:29", "00:0c:29"},
		{"garbage", "not-a-mac", "not-a-mac"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeMAC(tt.input))
		})
	}
}

func TestOUIExtraction(t *testing.T) {
	assert.Equal(t, "00:0C:29", OUI("00:0c:29:aa:bb:cc"))
	assert.Equal(t, "08:00:27", OUI("08-00-27-11-22-33"))
	assert.Equal(t, "", OUI("xx"))
}

func TestLookupVendor(t *testing.T) {
	r := NewResolver(16)

	assert.Equal(t, "VMware", r.LookupVendor("00:0C:29:AA:BB:CC"))
	assert.Equal(t, "VirtualBox", r.LookupVendor("08:00:27:11:22:33"))
	assert.Equal(t, "Cisco", r.LookupVendor("00:00:0c:01:02:03"))
	assert.Equal(t, "", r.LookupVendor("DE:AD:BE:EF:00:01"))

	// Second lookup hits the cache
	assert.Equal(t, "VMware", r.LookupVendor("00:0C:29:AA:BB:CC"))
	assert.True(t, r.IsKnownVendor("00:0C:29:AA:BB:CC"))
	assert.False(t, r.IsKnownVendor("DE:AD:BE:EF:00:01"))
}

func TestIsLocallyAdministered(t *testing.T) {
	assert.True(t, IsLocallyAdministered("02:00:00:11:22:33"))
	assert.True(t, IsLocallyAdministered("AE:DE:48:00:11:22"))
	assert.False(t, IsLocallyAdministered("00:0C:29:AA:BB:CC"))
	assert.False(t, IsLocallyAdministered("FC:FB:FB:01:02:03"))
}

func TestResolverStats(t *testing.T) {
	r := NewResolver(16)
	r.LookupVendor("00:0C:29:AA:BB:CC")

	table, cached, vendors := r.Stats()
	assert.Greater(t, table, 100)
	assert.Equal(t, 1, cached)
	assert.Greater(t, vendors, 5)
}

func TestResolverCacheBounded(t *testing.T) {
	r := NewResolver(4)

	for i := 0; i < 32; i++ {
		r.LookupVendor(fmt.Sprintf("00:0C:29:00:00:%02X", i))
	}
	_, cached, _ := r.Stats()
	assert.Equal(t, 4, cached)
}
