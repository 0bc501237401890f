// Package reporter files reports as Jira tickets, at most one ticket per unique id.
package reporter

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"jira-reporter/internal/classifier"
	"jira-reporter/internal/jira"
	"jira-reporter/internal/report"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Jira field length limits.
const (
	maxSummaryLength = 250
	maxURLLength     = 255
)

// maxTickets caps the duplicates touched for a single unique id.
const maxTickets = 50

const footerTemplate = "\n\n========================\nHash: %s\nOccurrences: %d in the last hour"

const reopenComment = "This issue is still happening: %d occurrences in the last hour (last resolved on %s). Reopening."

// Fields are the ticket fields set on every new ticket, overlaid by the
// ones of the destination project.
type Fields struct {
	Default  map[string]any
	Projects map[string]map[string]any
}

// Config tells how tickets are looked up and created.
type Config struct {
	// Project receives the reports the classifier cannot route.
	Project string

	UniqueIDField string
	URLField      string
	LastSeenField string

	// Resolved tickets are reopened when seen again more than ReopenAfterDays days after resolution.
	ReopenAfterDays  int
	ReopenTransition string
	// Tickets with these resolutions are never touched.
	ExcludedResolutions []string
	// No new tickets are created in these projects.
	SuppressedProjects []string

	Fields Fields
}

// Classifier routes a report to a project and component.
type Classifier interface {
	Classify(r *report.Report) (classifier.Classification, bool)
}

// Jira is the idempotent create-or-touch layer over the tracker.
type Jira struct {
	client     jira.Client
	classifier Classifier
	cfg        Config
	now        func() time.Time
}

// New returns a reporter filing tickets through client.
func New(client jira.Client, c Classifier, cfg Config) *Jira {
	log.Info().Str("project", cfg.Project).Msg("Using default Jira project")
	return &Jira{
		client:     client,
		classifier: c,
		cfg:        cfg,
		now:        time.Now,
	}
}

// TicketsFor returns the tickets already filed for a unique id.
func (j *Jira) TicketsFor(uniqueID string) ([]jira.IssueDTO, error) {
	return j.client.SearchIssues(j.lookupJQL(uniqueID), maxTickets)
}

func (j *Jira) lookupJQL(uniqueID string) string {
	field := j.cfg.UniqueIDField
	if id, ok := strings.CutPrefix(field, "customfield_"); ok {
		field = "cf[" + id + "]"
	}
	return fmt.Sprintf("%s ~ '%s' or summary ~ 'Hash: %s'", field, uniqueID, uniqueID)
}

// Report files r unless a ticket with the same unique id exists, in which case
// the existing tickets are touched instead. It returns whether a ticket was
// created; failures are logged, never returned.
func (j *Jira) Report(r *report.Report) bool {
	logger := log.With().Str("hash", r.UniqueID).Logger()
	logger.Info().Msgf("Reporting %q", r.Title())

	tickets, err := j.TicketsFor(r.UniqueID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to look up existing tickets")
		return false
	}
	if len(tickets) > 0 {
		urls := make([]string, len(tickets))
		for i, t := range tickets {
			urls[i] = j.client.IssueURL(t.Key)
		}
		logger.Info().Int("count", len(tickets)).Strs("tickets", urls).Msg("Already reported")

		for _, t := range tickets {
			j.touch(logger, t, r)
		}
		return false
	}

	project, component := j.cfg.Project, 0
	if c, ok := j.classifier.Classify(r); ok {
		project, component = c.Project, c.ComponentID
		logger.Info().Str("project", project).Int("component", component).Msg("Classified")
	}
	if slices.Contains(j.cfg.SuppressedProjects, project) {
		logger.Info().Str("project", project).Msg("Project does not accept tickets, not reporting")
		return false
	}

	fields := j.Fields(r, project, component)
	logger.Debug().Interface("fields", fields).Msg("Creating ticket")

	created, err := j.client.CreateIssue(fields)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to report")
		return false
	}
	logger.Info().Str("url", j.client.IssueURL(created.Key)).Msg("Reported")
	return true
}

// touch refreshes the last seen date of an existing ticket and reopens it
// when it was resolved long ago.
func (j *Jira) touch(logger zerolog.Logger, t jira.IssueDTO, r *report.Report) {
	logger = logger.With().Str("ticket", t.Key).Str("project", jira.ProjectKey(t.Key)).Logger()

	if t.HasResolution(j.cfg.ExcludedResolutions) {
		logger.Info().Str("resolution", t.Fields.Resolution.Name).Msg("Leaving ticket as is")
		return
	}

	now := j.now()
	if j.cfg.LastSeenField != "" {
		err := j.client.UpdateIssue(t.Key, map[string]any{j.cfg.LastSeenField: jira.FormatDate(now)})
		if err != nil {
			logger.Error().Err(err).Msg("Failed to update the last seen date")
		} else {
			logger.Info().Msg("Updated the last seen date")
		}
	}

	resolvedAt, ok := t.ResolvedAt()
	if !ok || !t.IsResolved() {
		return
	}
	if now.Sub(resolvedAt) <= time.Duration(j.cfg.ReopenAfterDays)*24*time.Hour {
		logger.Debug().Time("resolved", resolvedAt).Msg("Recently resolved, not reopening")
		return
	}

	if err := j.reopen(t, r, resolvedAt); err != nil {
		logger.Error().Err(err).Msg("Failed to reopen")
		return
	}
	logger.Info().Time("resolved", resolvedAt).Msg("Reopened")
}

func (j *Jira) reopen(t jira.IssueDTO, r *report.Report, resolvedAt time.Time) error {
	transitions, err := j.client.GetTransitions(t.Key)
	if err != nil {
		return err
	}
	transition, ok := jira.FindTransition(transitions, j.cfg.ReopenTransition)
	if !ok {
		return fmt.Errorf("%s has no %q transition", t.Key, j.cfg.ReopenTransition)
	}
	if err := j.client.DoTransition(t.Key, transition.ID); err != nil {
		return err
	}
	return j.client.AddComment(t.Key, fmt.Sprintf(reopenComment, r.Counter, jira.FormatDate(resolvedAt)))
}

// Fields builds the create issue payload of a report.
func (j *Jira) Fields(r *report.Report, project string, component int) map[string]any {
	fields := make(map[string]any)
	for k, v := range j.cfg.Fields.Default {
		fields[k] = v
	}
	for k, v := range j.cfg.Fields.Projects[project] {
		fields[k] = v
	}

	labels := append([]string{}, r.Labels...)

	fields["project"] = map[string]any{"key": project}
	fields["summary"] = truncate(r.Title(), maxSummaryLength)
	fields["description"] = strings.TrimSpace(r.Description) + fmt.Sprintf(footerTemplate, r.UniqueID, r.Counter)
	fields["labels"] = labels

	if r.Priority != "" {
		fields["priority"] = map[string]any{"id": r.Priority}
	}
	if component != 0 {
		fields["components"] = []map[string]any{{"id": strconv.Itoa(component)}}
	}
	if j.cfg.URLField != "" && r.URL != "" {
		fields[j.cfg.URLField] = truncate(r.URL, maxURLLength)
	}
	if j.cfg.UniqueIDField != "" {
		fields[j.cfg.UniqueIDField] = r.UniqueID
	}
	if j.cfg.LastSeenField != "" {
		fields[j.cfg.LastSeenField] = jira.FormatDate(j.now())
	}
	return fields
}

// truncate cuts s to at most n characters.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
