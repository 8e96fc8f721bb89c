package extension

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	masterminds "github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

const manifestLogPrefix = "extension:manifest"

// ABIVersion is the extension interface version this runtime implements.
const ABIVersion = "1.0.0"

var (
	extensionNameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9._-]*$`)
	majorOnlyRegex     = regexp.MustCompile(`^\d+$`)
)

// Manifest describes an extension: its identity, the ABI range it was
// built against and the router operations it asks for.
type Manifest struct {
	Name         string   `json:"name" yaml:"name"`
	Version      string   `json:"version" yaml:"version"`
	Description  string   `json:"description,omitempty" yaml:"description,omitempty"`
	ABI          string   `json:"abi" yaml:"abi"`
	Capabilities []string `json:"capabilities" yaml:"capabilities"`
}

// ParseManifest decodes a manifest. format is "yaml" or "json"; anything
// else is treated as json.
func ParseManifest(data []byte, format string) (*Manifest, error) {
	var m Manifest
	switch strings.ToLower(format) {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%s - failed to parse yaml manifest: %w", manifestLogPrefix, err)
		}
	default:
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%s - failed to parse json manifest: %w", manifestLogPrefix, err)
		}
	}
	return &m, nil
}

// LoadManifest reads a manifest file, choosing the format from its extension.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to read manifest %s: %w", manifestLogPrefix, path, err)
	}
	m, err := ParseManifest(data, strings.TrimPrefix(filepath.Ext(path), "."))
	if err != nil {
		return nil, err
	}
	slog.Debug(fmt.Sprintf("%s - loaded manifest %s from %s", manifestLogPrefix, m.Name, path))
	return m, nil
}

// Validate checks the manifest fields and that abiVersion satisfies the
// manifest's ABI constraint.
func (m *Manifest) Validate(abiVersion string) error {
	if !extensionNameRegex.MatchString(m.Name) {
		return fmt.Errorf("%s - invalid extension name %q", manifestLogPrefix, m.Name)
	}
	if m.Version != "" {
		if _, err := masterminds.NewVersion(m.Version); err != nil {
			return fmt.Errorf("%s - invalid version %q for %s: %w", manifestLogPrefix, m.Version, m.Name, err)
		}
	}
	if m.ABI == "" {
		return fmt.Errorf("%s - extension %s does not declare an abi", manifestLogPrefix, m.Name)
	}
	ok, err := SatisfiesABI(abiVersion, m.ABI)
	if err != nil {
		return fmt.Errorf("%s - extension %s: %w", manifestLogPrefix, m.Name, err)
	}
	if !ok {
		return fmt.Errorf("%s - extension %s requires abi %s, runtime provides %s", manifestLogPrefix, m.Name, m.ABI, abiVersion)
	}
	return nil
}

// SatisfiesABI reports whether version satisfies constraint. A bare major
// ("1") matches any version with that major.
func SatisfiesABI(version, constraint string) (bool, error) {
	sv, err := masterminds.NewVersion(version)
	if err != nil {
		return false, fmt.Errorf("invalid abi version %q: %w", version, err)
	}
	constraint = strings.TrimSpace(constraint)
	if majorOnlyRegex.MatchString(constraint) {
		major, _ := strconv.ParseUint(constraint, 10, 64)
		return sv.Major() == major, nil
	}
	c, err := masterminds.NewConstraint(constraint)
	if err != nil {
		return false, fmt.Errorf("invalid abi constraint %q: %w", constraint, err)
	}
	return c.Check(sv), nil
}
