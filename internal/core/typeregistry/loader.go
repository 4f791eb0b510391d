package typeregistry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/agenthands/metastore/internal/core/model"
)

type typeDefsFile struct {
	TypeDefs []*model.TypeDef `yaml:"typedefs"`
}

// Parse decodes a YAML typedefs document. Supertypes must precede subtypes.
func Parse(data []byte) ([]*model.TypeDef, error) {
	var f typeDefsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse typedefs: %w", err)
	}
	return f.TypeDefs, nil
}

// LoadFile builds a registry from a YAML typedefs file.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read typedefs file '%s': %w", path, err)
	}
	defs, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return New(defs...)
}
