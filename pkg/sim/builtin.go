package sim

import (
	"embed"
	"fmt"
	"path"
	"strings"

	"golang.org/x/exp/slices"
)

//go:embed scenarios/*.yaml
var builtinFS embed.FS

// Builtin lists the bundled scenario names.
func Builtin() []string {
	entries, err := builtinFS.ReadDir("scenarios")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), path.Ext(e.Name())))
	}
	slices.Sort(names)
	return names
}

// LoadBuiltin parses a bundled scenario.
func LoadBuiltin(name string) (*Scenario, error) {
	data, err := builtinFS.ReadFile("scenarios/" + name + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("unknown scenario %q (have %s)", name, strings.Join(Builtin(), ", "))
	}
	return ParseScenario(data)
}
