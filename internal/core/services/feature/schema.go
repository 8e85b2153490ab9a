// Package feature turns frames and stored alerts into fixed-width numeric
// vectors indexed by a versioned, persisted schema.
package feature

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Schema is a named, versioned feature set. Two schemas with the same
// checksum denote identical feature sets.
type Schema struct {
	Version      string            `json:"version"`
	Name         string            `json:"name"`
	Description  string            `json:"description"`
	Features     []string          `json:"features"`
	FeatureTypes map[string]string `json:"feature_types"`
	CreatedAt    string            `json:"created_at"`
	Checksum     string            `json:"checksum"`
	Metadata     map[string]any    `json:"metadata"`
}

// Width returns the vector width this schema produces.
func (s Schema) Width() int { return len(s.Features) }

// Checksum computes the canonical fingerprint of a feature list:
// sha256 over the sorted names joined by "|", truncated to 16 hex chars.
func Checksum(features []string) string {
	sorted := make([]string, len(features))
	copy(sorted, features)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "|")))
	return hex.EncodeToString(sum[:])[:16]
}

// CompatReport describes how two schema versions relate.
type CompatReport struct {
	Compatible         bool     `json:"compatible"`
	BackwardCompatible bool     `json:"backward_compatible"`
	Version1           string   `json:"version1"`
	Version2           string   `json:"version2"`
	FeaturesAdded      []string `json:"features_added"`
	FeaturesRemoved    []string `json:"features_removed"`
	FeaturesCommon     []string `json:"features_common"`
}

// Registry stores schemas on disk (one JSON file per version) and answers
// version queries.
type Registry struct {
	mu      sync.RWMutex
	dir     string
	schemas map[string]Schema
}

// NewRegistry opens a schema directory, loading any persisted versions.
func NewRegistry(dir string) (*Registry, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating schema dir: %w", err)
	}
	r := &Registry{dir: dir, schemas: make(map[string]Schema)}

	entries, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	for _, path := range entries {
		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("Failed to read schema %s: %v", path, err)
			continue
		}
		var s Schema
		if err := json.Unmarshal(data, &s); err != nil {
			log.Printf("Failed to parse schema %s: %v", path, err)
			continue
		}
		r.schemas[s.Version] = s
	}
	return r, nil
}

// Register adds a schema version, computes its checksum and persists it.
// Registering an existing version overwrites it.
func (r *Registry) Register(version, name string, features []string, featureTypes map[string]string, description string) (Schema, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.schemas[version]; exists {
		log.Printf("Schema version %s already exists, overwriting", version)
	}

	s := Schema{
		Version:      version,
		Name:         name,
		Description:  description,
		Features:     features,
		FeatureTypes: featureTypes,
		CreatedAt:    time.Now().Format(time.RFC3339),
		Checksum:     Checksum(features),
		Metadata:     map[string]any{},
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return Schema{}, err
	}
	path := filepath.Join(r.dir, "schema_"+version+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return Schema{}, fmt.Errorf("persisting schema %s: %w", version, err)
	}

	r.schemas[version] = s
	log.Printf("Registered schema %s: %d features", version, len(features))
	return s, nil
}

// Get returns a schema by version.
func (r *Registry) Get(version string) (Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[version]
	return s, ok
}

// Latest returns the highest registered version, semver ordered.
func (r *Registry) Latest() (Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best string
	for v := range r.schemas {
		if best == "" || semverLess(best, v) {
			best = v
		}
	}
	if best == "" {
		return Schema{}, false
	}
	return r.schemas[best], true
}

// Versions lists registered versions in ascending order.
func (r *Registry) Versions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.schemas))
	for v := range r.schemas {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return semverLess(out[i], out[j]) })
	return out
}

// Compatibility compares two versions. A target missing no feature of the
// source is backward compatible.
func (r *Registry) Compatibility(v1, v2 string) (CompatReport, error) {
	r.mu.RLock()
	s1, ok1 := r.schemas[v1]
	s2, ok2 := r.schemas[v2]
	r.mu.RUnlock()

	if !ok1 || !ok2 {
		return CompatReport{}, fmt.Errorf("schema not found")
	}

	set1 := make(map[string]struct{}, len(s1.Features))
	for _, f := range s1.Features {
		set1[f] = struct{}{}
	}
	set2 := make(map[string]struct{}, len(s2.Features))
	for _, f := range s2.Features {
		set2[f] = struct{}{}
	}

	report := CompatReport{Version1: v1, Version2: v2}
	for _, f := range s2.Features {
		if _, ok := set1[f]; !ok {
			report.FeaturesAdded = append(report.FeaturesAdded, f)
		}
	}
	for _, f := range s1.Features {
		if _, ok := set2[f]; ok {
			report.FeaturesCommon = append(report.FeaturesCommon, f)
		} else {
			report.FeaturesRemoved = append(report.FeaturesRemoved, f)
		}
	}
	report.BackwardCompatible = len(report.FeaturesRemoved) == 0
	report.Compatible = report.BackwardCompatible
	return report, nil
}

func semverLess(a, b string) bool {
	pa := strings.Split(a, ".")
	pb := strings.Split(b, ".")
	for i := 0; i < len(pa) && i < len(pb); i++ {
		na, _ := strconv.Atoi(pa[i])
		nb, _ := strconv.Atoi(pb[i])
		if na != nb {
			return na < nb
		}
	}
	return len(pa) < len(pb)
}
