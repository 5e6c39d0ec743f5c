package phasegraph

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const maxDefinitionSize = 1024 * 1024

// LoadFile decodes a workflow definition from a .yaml, .yml or .toml file.
// Unknown keys are rejected. The result is not yet validated.
func LoadFile(path string) (WorkflowDefinition, error) {
	data, err := readBounded(path)
	if err != nil {
		return WorkflowDefinition{}, err
	}

	var def WorkflowDefinition
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&def); err != nil && !errors.Is(err, io.EOF) {
			return WorkflowDefinition{}, fmt.Errorf("decode %s: %w", path, err)
		}
	case ".toml":
		md, err := toml.Decode(string(data), &def)
		if err != nil {
			return WorkflowDefinition{}, fmt.Errorf("decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return WorkflowDefinition{}, fmt.Errorf("decode %s: unknown keys %v", path, undecoded)
		}
	default:
		return WorkflowDefinition{}, fmt.Errorf("unsupported definition format %q", filepath.Ext(path))
	}
	return def, nil
}

// LoadDir decodes every definition file in dir, in file name order.
func LoadDir(dir string) ([]WorkflowDefinition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read workflow dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml", ".toml":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	defs := make([]WorkflowDefinition, 0, len(names))
	for _, name := range names {
		def, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func readBounded(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open definition: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxDefinitionSize+1))
	if err != nil {
		return nil, fmt.Errorf("read definition: %w", err)
	}
	if len(data) > maxDefinitionSize {
		return nil, fmt.Errorf("definition %s exceeds %d bytes", path, maxDefinitionSize)
	}
	return data, nil
}
