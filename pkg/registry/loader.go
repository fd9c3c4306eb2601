package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// DefaultTestTimeout applies when a test omits its timeout field.
const DefaultTestTimeout = 5 * time.Minute

// supportedSchema gates the tests.yaml schema version. Definitions written
// against a future major version are skipped rather than misread.
var supportedSchema = func() *semver.Constraints {
	c, err := semver.NewConstraint(">= 1.0, < 2.0")
	if err != nil {
		panic(err)
	}
	return c
}()

var validate = validator.New()

var (
	// ErrTestFileNotFound indicates the scanner has no tests.yaml.
	ErrTestFileNotFound = errors.New("test definition file not found")

	// ErrInvalidDefinition indicates tests.yaml exists but failed to parse
	// or validate.
	ErrInvalidDefinition = errors.New("invalid test definition")

	// ErrUnsupportedSchema indicates a tests.yaml schema version outside
	// the supported range.
	ErrUnsupportedSchema = errors.New("unsupported test definition schema version")
)

// TestSource points at the repository a test should scan.
type TestSource struct {
	URL string `yaml:"url" validate:"required,url,startswith=https://"`
	Ref string `yaml:"ref" validate:"required"`
}

// Test is one test specification from a scanner's tests.yaml.
type Test struct {
	Name        string           `yaml:"name" validate:"required"`
	Type        string           `yaml:"type" validate:"required,oneof=source-code docker-image"`
	Source      TestSource       `yaml:"source"`
	ScanPaths   []string         `yaml:"scan_paths"`
	ScanConfigs []map[string]any `yaml:"scan_configs"`
	Timeout     string           `yaml:"timeout"`
}

// TimeoutDuration parses the test's timeout (e.g. "300s", "5m"), falling
// back to DefaultTestTimeout when absent or unparseable.
func (t Test) TimeoutDuration() time.Duration {
	if t.Timeout == "" {
		return DefaultTestTimeout
	}
	d, err := time.ParseDuration(t.Timeout)
	if err != nil || d <= 0 {
		return DefaultTestTimeout
	}
	return d
}

// TestDefinition is the full contents of one scanner's tests.yaml.
type TestDefinition struct {
	Version string `yaml:"version" validate:"required"`
	Tests   []Test `yaml:"tests" validate:"dive"`
}

// TestFilePath returns the tests.yaml location for a scanner inside the
// registry checkout.
func TestFilePath(registryPath, scannerID string) string {
	return filepath.Join(registryPath, "scanners", scannerID, "tests.yaml")
}

// LoadTestDefinition loads and validates the test definition for one scanner.
func LoadTestDefinition(registryPath, scannerID string) (*TestDefinition, error) {
	path := TestFilePath(registryPath, scannerID)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrTestFileNotFound, path)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var def TestDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidDefinition, path, err)
	}

	if err := validate.Struct(&def); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidDefinition, path, err)
	}

	version, err := semver.NewVersion(def.Version)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: version %q: %w", ErrInvalidDefinition, path, def.Version, err)
	}
	if !supportedSchema.Check(version) {
		return nil, fmt.Errorf("%w: %s: version %s", ErrUnsupportedSchema, path, def.Version)
	}

	return &def, nil
}

// LoadAllTests loads test definitions for the given scanners. Scanners with
// missing or invalid definitions are skipped with a warning; they are not an
// error, matching how registry changes without tests contribute nothing.
func LoadAllTests(registryPath string, scannerIDs []string) map[string]*TestDefinition {
	defs := make(map[string]*TestDefinition, len(scannerIDs))
	for _, id := range scannerIDs {
		def, err := LoadTestDefinition(registryPath, id)
		if err != nil {
			log.Warn().Err(err).Str("scanner", id).Msg("Skipping scanner with unusable test definition")
			continue
		}
		defs[id] = def
	}
	return defs
}
