package classifier

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Table names, also used as the file names (with a .yaml suffix) and as the
// top-level key inside each file.
const (
	TableComponents = "components"
	TablePaths      = "paths"
	TableOwners     = "ucp_owners"
)

const tableHeader = "# This file was auto-generated by \"jira-reporter update-classifier-config\"\n"

// Tables are the static lookups loaded once at startup.
type Tables struct {
	// Components maps a Jira component name to its id.
	Components map[string]int
	// Paths maps a source path substring to a component name.
	Paths map[string]string
	// Owners maps a unified platform directory to its product owner.
	Owners map[string]string
}

// LoadTables reads the tables from dir. The owners table is optional.
func LoadTables(dir string) (*Tables, error) {
	t := &Tables{}

	if err := readTable(dir, TableComponents, &t.Components); err != nil {
		return nil, err
	}
	if err := readTable(dir, TablePaths, &t.Paths); err != nil {
		return nil, err
	}

	err := readTable(dir, TableOwners, &t.Owners)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Debug().Str("dir", dir).Msg("No owners table found")
	case err != nil:
		return nil, err
	}
	if t.Owners == nil {
		t.Owners = map[string]string{}
	}

	log.Info().
		Int("components", len(t.Components)).
		Int("paths", len(t.Paths)).
		Int("owners", len(t.Owners)).
		Msg("Classifier tables loaded")
	return t, nil
}

func readTable[T any](dir, name string, out *map[string]T) error {
	path := filepath.Join(dir, name+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s table: %w", name, err)
	}

	var doc map[string]map[string]T
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	table, ok := doc[name]
	if !ok {
		return fmt.Errorf("%s has no %q section", path, name)
	}
	*out = table
	return nil
}

// WriteTable stores a table in dir under the given name, replacing any previous version.
func WriteTable[T any](dir, name string, data map[string]T) error {
	var buf bytes.Buffer
	buf.WriteString(tableHeader)

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(map[string]map[string]T{name: data}); err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}

	path := filepath.Join(dir, name+".yaml")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	log.Info().Str("path", path).Int("items", len(data)).Msg("Table generated")
	return nil
}
