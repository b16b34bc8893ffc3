// Package limits loads the intake-limits spec that caps uploaded bundles.
// Operators tune it with a YAML file; absent configuration falls back to
// built-in defaults.
package limits

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/reporthub-labs/reporthub-go/internal/archive"
)

const SpecSchemaV1 = "reporthub.limits.v1"

type Spec struct {
	Schema         string `yaml:"schema"`
	MaxEntries     int    `yaml:"max_entries"`
	MaxTotalBytes  int64  `yaml:"max_total_bytes"`
	MaxEntryBytes  int64  `yaml:"max_entry_bytes"`
	MaxBundleBytes int64  `yaml:"max_bundle_bytes"`
}

func Default() Spec {
	archiveLimits := archive.DefaultLimits()
	return Spec{
		Schema:         SpecSchemaV1,
		MaxEntries:     archiveLimits.MaxEntries,
		MaxTotalBytes:  archiveLimits.MaxTotalBytes,
		MaxEntryBytes:  archiveLimits.MaxEntryBytes,
		MaxBundleBytes: 1 << 30, // 1 GiB compressed upload
	}
}

func ParseSpec(input []byte) (Spec, error) {
	var spec Spec
	if err := yaml.Unmarshal(input, &spec); err != nil {
		return Spec{}, fmt.Errorf("decode spec: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

// Load reads the spec file at path. An empty path returns the defaults.
func Load(path string) (Spec, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Spec{}, fmt.Errorf("read limits file: %w", err)
	}
	return ParseSpec(raw)
}

func (s Spec) Validate() error {
	if strings.TrimSpace(s.Schema) != SpecSchemaV1 {
		return fmt.Errorf("spec.schema must be %q", SpecSchemaV1)
	}
	if s.MaxEntries <= 0 {
		return fmt.Errorf("spec.max_entries must be positive")
	}
	if s.MaxTotalBytes <= 0 {
		return fmt.Errorf("spec.max_total_bytes must be positive")
	}
	if s.MaxEntryBytes <= 0 {
		return fmt.Errorf("spec.max_entry_bytes must be positive")
	}
	if s.MaxEntryBytes > s.MaxTotalBytes {
		return fmt.Errorf("spec.max_entry_bytes must be <= spec.max_total_bytes")
	}
	if s.MaxBundleBytes <= 0 {
		return fmt.Errorf("spec.max_bundle_bytes must be positive")
	}
	return nil
}

func (s Spec) ArchiveLimits() archive.Limits {
	return archive.Limits{
		MaxEntries:    s.MaxEntries,
		MaxTotalBytes: s.MaxTotalBytes,
		MaxEntryBytes: s.MaxEntryBytes,
	}
}
