// Package confidence loads the confidence scales subjects rate trials on.
package confidence

import (
	"embed"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MikeSquared-Agency/calibre/internal/calibration"
)

//go:embed levels/*.yaml
var levelFS embed.FS

// Set is one versioned confidence scale. Labels are shown to the subject,
// keys are the responses recorded for each label, in the same order.
type Set struct {
	Version int      `yaml:"version" json:"version"`
	Labels  []string `yaml:"labels" json:"labels"`
	Keys    []string `yaml:"keys" json:"keys"`
}

// Load reads the scale for version from the embedded level files.
func Load(version int) (*Set, error) {
	data, err := levelFS.ReadFile(fmt.Sprintf("levels/v%d.yaml", version))
	if err != nil {
		return nil, fmt.Errorf("confidence version %d not found (available: %s): %w",
			version, joinInts(Versions()), err)
	}
	var s Set
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse confidence version %d: %w", version, err)
	}
	if s.Version != version {
		return nil, fmt.Errorf("confidence file v%d declares version %d", version, s.Version)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("confidence version %d: %w", version, err)
	}
	return &s, nil
}

// Versions returns the embedded scale versions, sorted.
func Versions() []int {
	entries, _ := levelFS.ReadDir("levels")
	var out []int
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "v") || !strings.HasSuffix(name, ".yaml") {
			continue
		}
		v, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "v"), ".yaml"))
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

// Len is the number of confidence levels.
func (s *Set) Len() int {
	return len(s.Keys)
}

func (s *Set) Validate() error {
	if len(s.Keys) == 0 {
		return fmt.Errorf("no confidence keys")
	}
	if len(s.Labels) != len(s.Keys) {
		return fmt.Errorf("%d labels for %d keys", len(s.Labels), len(s.Keys))
	}
	seen := make(map[string]bool, len(s.Keys))
	for _, k := range s.Keys {
		if seen[k] {
			return fmt.Errorf("duplicate key %q", k)
		}
		seen[k] = true
	}
	return nil
}

// Category maps a recorded response key to its 1-based confidence category.
func (s *Set) Category(key string) (int, error) {
	key = strings.TrimSpace(key)
	for i, k := range s.Keys {
		if k == key {
			return i + 1, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown confidence key %q", calibration.ErrInvalidCategory, key)
}

// CalibrationConfig sizes a calibration scorer to this scale.
func (s *Set) CalibrationConfig() calibration.Config {
	return calibration.Config{Levels: s.Len()}
}

func joinInts(vs []int) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ", ")
}
