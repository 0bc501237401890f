// Package classifier picks the Jira project and component a report is filed under.
package classifier

import (
	"regexp"
	"sort"
	"strings"

	"jira-reporter/internal/report"
	"jira-reporter/internal/rules"
)

// Jira projects reports are routed to.
const (
	ProjectMain               = "MAIN"
	ProjectSER                = "SER"
	ProjectCommunityTechnical = "CT"
	ProjectErrorReporter      = "ER"
)

// Classification is the destination of a report. A zero ComponentID means
// no component is set.
type Classification struct {
	Project     string
	ComponentID int
}

type labelRoute struct {
	label     string
	project   string
	component string
}

// labelRoutes are checked in order; the first label carried by a report wins.
var labelRoutes = []labelRoute{
	{rules.LabelHelios, ProjectSER, "Helios"},
	{rules.LabelMercury, ProjectMain, "Mercury"},
	// Pandora issues go to ER, Jira automation moves them on by label
	{rules.LabelPandora, ProjectErrorReporter, ""},
	{rules.LabelChat, ProjectMain, "Chat"},
	{rules.LabelBackend, ProjectMain, "Backend Scripts"},
	{rules.LabelPHPTimeout, ProjectCommunityTechnical, ""},
}

// * /extensions/wikia/Chat2/ChatAjax.class.php:84
var backtraceLineRe = regexp.MustCompile(`(?m)^\*\s?([^:]+):\d+`)

type pathRoute struct {
	path      string
	component string
}

// Classifier routes reports using the static component and path tables.
// It is safe for concurrent use once built.
type Classifier struct {
	components map[string]int
	paths      []pathRoute
}

// New builds a classifier over the given tables. A nil table classifies by label only.
func New(t *Tables) *Classifier {
	c := &Classifier{components: map[string]int{}}
	if t == nil {
		return c
	}
	if t.Components != nil {
		c.components = t.Components
	}

	for path, component := range t.Paths {
		c.paths = append(c.paths, pathRoute{path: path, component: component})
	}
	// most specific path first; ties by name keep the order stable
	sort.Slice(c.paths, func(i, j int) bool {
		if len(c.paths[i].path) != len(c.paths[j].path) {
			return len(c.paths[i].path) > len(c.paths[j].path)
		}
		return c.paths[i].path < c.paths[j].path
	})
	return c
}

// ComponentID returns the Jira id of a component, or 0 when it is unknown.
func (c *Classifier) ComponentID(name string) int {
	return c.components[name]
}

// Classify returns the destination of a report, or false when the report
// should stay in the default project.
func (c *Classifier) Classify(r *report.Report) (Classification, bool) {
	for _, route := range labelRoutes {
		if r.HasLabel(route.label) {
			return Classification{Project: route.project, ComponentID: c.ComponentID(route.component)}, true
		}
	}

	for _, target := range scanTargets(r.Description) {
		for _, p := range c.paths {
			if strings.Contains(target, p.path) {
				return Classification{Project: ProjectMain, ComponentID: c.ComponentID(p.component)}, true
			}
		}
	}
	return Classification{}, false
}

// scanTargets returns the backtrace frames of a description, innermost first,
// or the whole description when it has no backtrace.
func scanTargets(description string) []string {
	matches := backtraceLineRe.FindAllStringSubmatch(description, -1)
	if len(matches) == 0 {
		return []string{description}
	}
	targets := make([]string, len(matches))
	for i, m := range matches {
		targets[i] = m[1]
	}
	return targets
}
