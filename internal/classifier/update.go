package classifier

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"jira-reporter/internal/jira"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ComponentLister lists the components defined in a Jira project.
type ComponentLister interface {
	ProjectComponents(projectKey string) ([]jira.Component, error)
}

// FetchComponents builds the component name to id table from the given projects.
// When two projects define the same name, the one listed later wins.
func FetchComponents(lister ComponentLister, projects ...string) (map[string]int, error) {
	results := make([][]jira.Component, len(projects))

	var g errgroup.Group
	for i, project := range projects {
		i, project := i, project
		g.Go(func() error {
			components, err := lister.ProjectComponents(project)
			if err != nil {
				return fmt.Errorf("failed to list %s components: %w", project, err)
			}
			log.Info().Str("project", project).Int("components", len(components)).Msg("Fetched components")
			results[i] = components
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	table := make(map[string]int)
	for _, components := range results {
		for _, c := range components {
			id, err := strconv.Atoi(c.ID)
			if err != nil {
				return nil, fmt.Errorf("component %q has a non-numeric id %q", c.Name, c.ID)
			}
			table[strings.TrimSpace(c.Name)] = id
		}
	}
	return table, nil
}

// pathSources are the CSV files mapping code locations to components, keyed
// by the prefix their first column is relative to.
var pathSources = []struct {
	file   string
	prefix string
}{
	{"core.csv", "/"},
	{"extensions.csv", "/extensions/wikia/"},
}

// ErrUnknownComponent is returned when a CSV row names a component Jira does not define.
var ErrUnknownComponent = errors.New("component is not defined in Jira")

// BuildPaths reads core.csv and extensions.csv from dir and returns the path
// to component name table. Rows without a component are skipped.
func BuildPaths(dir string, components map[string]int) (map[string]string, error) {
	paths := make(map[string]string)
	for _, src := range pathSources {
		if err := readPaths(filepath.Join(dir, src.file), src.prefix, components, paths); err != nil {
			return nil, err
		}
	}
	return paths, nil
}

func readPaths(file, prefix string, components map[string]int, paths map[string]string) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", file, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 2

	// header
	if _, err := r.Read(); err != nil {
		return fmt.Errorf("failed to read %s header: %w", file, err)
	}

	for {
		row, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", file, err)
		}

		path, component := row[0], row[1]
		if component == "" {
			continue
		}
		if _, ok := components[component]; !ok {
			return fmt.Errorf("%w: %q, please update %s (row %v)", ErrUnknownComponent, component, file, row)
		}
		paths[prefix+path] = component
	}
}

var productPersonRe = regexp.MustCompile(`product_person\s*=\s"(.+)"`)

// ScanOwners walks a unified platform checkout for crowdin.conf files and
// returns the product owner of each directory that declares exactly one.
func ScanOwners(root string) (map[string]string, error) {
	owners := make(map[string]string)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel == "node_modules" || strings.HasPrefix(rel, "node_modules/") {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() != "crowdin.conf" {
			return nil
		}

		contents, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		m := productPersonRe.FindAllStringSubmatch(string(contents), -1)
		if len(m) != 1 {
			log.Debug().Str("path", rel).Int("matches", len(m)).Msg("Skipping crowdin.conf")
			return nil
		}

		owners[filepath.ToSlash(filepath.Dir(rel))] = m[0][1]
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}
	return owners, nil
}
