// Package scenarios embeds the built-in to-do application suite.
package scenarios

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/roach88/todocheck/internal/harness"
)

//go:embed todo/*.yaml
var files embed.FS

// Load parses the built-in scenarios whose base name matches filter (a glob;
// empty matches all), in file name order.
func Load(filter string) ([]*harness.Scenario, error) {
	entries, err := fs.Glob(files, "todo/*.yaml")
	if err != nil {
		return nil, err
	}

	var out []*harness.Scenario
	for _, name := range entries {
		base := strings.TrimSuffix(path.Base(name), ".yaml")
		if filter != "" {
			matched, err := path.Match(filter, base)
			if err != nil {
				return nil, fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				continue
			}
		}

		data, err := files.ReadFile(name)
		if err != nil {
			return nil, err
		}
		sc, err := harness.ParseScenario(name, data)
		if err != nil {
			return nil, fmt.Errorf("built-in scenario %s: %w", name, err)
		}
		sc.Path = "builtin:" + name
		out = append(out, sc)
	}
	return out, nil
}
