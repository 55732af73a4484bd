package harness

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ScenarioNotFoundError is returned when a path given on the command line
// doesn't exist.
type ScenarioNotFoundError struct {
	Path string
}

func (e *ScenarioNotFoundError) Error() string {
	return fmt.Sprintf("scenario path %q does not exist", e.Path)
}

// FindScenarioFiles expands paths into scenario files. Directories are walked
// for *.yaml and *.yml; filter is a glob matched against the base name
// without extension. Files named explicitly are filtered too.
func FindScenarioFiles(paths []string, filter string) ([]string, error) {
	if filter != "" {
		if _, err := filepath.Match(filter, ""); err != nil {
			return nil, fmt.Errorf("invalid filter pattern: %w", err)
		}
	}

	var files []string
	for _, root := range paths {
		info, err := os.Stat(root)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &ScenarioNotFoundError{Path: root}
		}
		if err != nil {
			return nil, err
		}

		if !info.IsDir() {
			if matchScenario(root, filter) {
				files = append(files, root)
			}
			continue
		}

		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && matchScenario(path, filter) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	sort.Strings(files)
	return files, nil
}

func matchScenario(path, filter string) bool {
	ext := filepath.Ext(path)
	if ext != ".yaml" && ext != ".yml" {
		return false
	}
	if filter == "" {
		return true
	}
	matched, _ := filepath.Match(filter, strings.TrimSuffix(filepath.Base(path), ext))
	return matched
}

// LoadFailure is a scenario file that failed to load.
type LoadFailure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// ValidationResult contains the results of loading a set of scenario files.
type ValidationResult struct {
	Total    int           `json:"total"`
	Valid    int           `json:"valid"`
	Invalid  int           `json:"invalid"`
	Failures []LoadFailure `json:"failures,omitempty"`

	Scenarios []*Scenario `json:"-"`

	// sources holds the file each entry of Scenarios came from.
	sources []string
}

// ValidateScenarios loads every scenario under paths and aggregates the
// failures instead of stopping at the first one.
func ValidateScenarios(paths []string, filter string) (*ValidationResult, error) {
	files, err := FindScenarioFiles(paths, filter)
	if err != nil {
		return nil, err
	}

	result := &ValidationResult{Total: len(files)}
	names := make(map[string]string, len(files))
	for _, path := range files {
		sc, err := LoadScenario(path)
		if err == nil {
			if prev, dup := names[sc.Name]; dup {
				err = fmt.Errorf("duplicate scenario name %q (also in %s)", sc.Name, prev)
			}
		}
		if err != nil {
			result.Invalid++
			result.Failures = append(result.Failures, LoadFailure{Path: path, Error: err.Error()})
			continue
		}
		names[sc.Name] = path
		result.Valid++
		result.Scenarios = append(result.Scenarios, sc)
		result.sources = append(result.sources, path)
	}
	return result, nil
}

// CheckToggles re-checks the valid scenarios against a profile's toggle rule
// and moves the ones it refuses into Failures.
func (r *ValidationResult) CheckToggles(allowUncomplete bool) {
	var (
		kept    []*Scenario
		sources []string
	)
	for i, sc := range r.Scenarios {
		source := sc.Name
		if i < len(r.sources) {
			source = r.sources[i]
		}
		if err := sc.CheckToggles(allowUncomplete); err != nil {
			r.Valid--
			r.Invalid++
			r.Failures = append(r.Failures, LoadFailure{Path: source, Error: err.Error()})
			continue
		}
		kept = append(kept, sc)
		sources = append(sources, source)
	}
	r.Scenarios, r.sources = kept, sources
}

// LoadScenarios loads every scenario under paths, failing on the first
// invalid file.
func LoadScenarios(paths []string, filter string) ([]*Scenario, error) {
	result, err := ValidateScenarios(paths, filter)
	if err != nil {
		return nil, err
	}
	if len(result.Failures) > 0 {
		f := result.Failures[0]
		return nil, fmt.Errorf("%s: %s", f.Path, f.Error)
	}
	return result.Scenarios, nil
}
