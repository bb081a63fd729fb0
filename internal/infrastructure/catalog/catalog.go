// Package catalog loads module definitions from YAML.
package catalog

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/markdotcom5/SharedStarsFinal-sub001/internal/domain/module"
)

//go:embed default_catalog.yaml
var defaultCatalog []byte

type file struct {
	Modules []module.Definition `yaml:"modules"`
}

// Parse decodes and validates a catalog document. Unknown fields are rejected
// so a typo in a requirement does not silently disable it.
func Parse(data []byte) (*module.StaticCatalog, error) {
	var f file
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if len(f.Modules) == 0 {
		return nil, fmt.Errorf("catalog defines no modules")
	}
	return module.NewStaticCatalog(f.Modules...)
}

// Load reads the catalog at path, or the built-in catalog when path is empty.
func Load(path string) (*module.StaticCatalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return c, nil
}

// Default returns the built-in catalog.
func Default() (*module.StaticCatalog, error) {
	return Parse(defaultCatalog)
}
