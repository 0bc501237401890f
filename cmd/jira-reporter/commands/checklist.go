package commands

import (
	"context"
	"slices"

	"jira-reporter/internal/metrics"
	"jira-reporter/internal/report"
	"jira-reporter/internal/rules"
	"jira-reporter/internal/source"

	"github.com/rs/zerolog/log"
)

// check is one source query of a run.
type check struct {
	rule      source.Rule
	query     string
	threshold int
}

// checklist lists what a run queries and how often an issue has to be seen to be reported.
func checklist(d rules.Deps) []check {
	phpErrors := rules.NewPHPErrors(d)
	mercury := rules.NewMercury(d)

	return []check{
		{phpErrors, "PHP Fatal Error", 5},
		{phpErrors, "PHP Catchable Fatal", 5},
		{phpErrors, "PHP Warning", 50},
		{phpErrors, "PHP Strict Standards", 200},
		{phpErrors, "PHP Notice", 2000},
		{rules.NewPHPExceptions(d), "error", 50},
		{rules.NewPHPTypeError(d), "", 5},
		{rules.NewPHPAssertion(d), "", 5},
		{rules.NewPHPTriggered(d), "", 10},
		{rules.NewPHPTimeout(d), "", 50},
		// security problems are always important
		{rules.NewCSRF(d), "", 0},

		{rules.NewDBQueryErrors(d), "", 20},
		{rules.NewDBQueryNoLimit(d), "", 50},
		{rules.NewMySQLKiller(d), "", 5},
		{rules.NewPTKill(d), "", 5},
		{rules.NewAnemometer(d), "", 0},
		// we serve 75k not cached responses an hour
		{rules.NewNotCached(d), "", 500},
		{rules.NewBackend(d), "", 5},

		{rules.NewPandora(d), "", 50},
		{rules.NewPhalanx(d), "", 5},
		{rules.NewHelios(d), "", 5},
		{rules.NewChat(d), "", 5},
		{mercury, "fatal", 0},
		{mercury, "error", 50},
		{rules.NewVignette(d), "", 5},
		{rules.NewCelery(d), "", 5},
		{rules.NewUCP(d), "", 10},
		{rules.NewK8sBackoff(d), "", 0},

		{rules.NewPipe(d), "", 0},
		{rules.NewIndexDigest(d), "", 0},
	}
}

// filterChecks keeps the checks of the named rules; no names keeps all of them.
func filterChecks(checks []check, names []string) []check {
	if len(names) == 0 {
		return checks
	}
	var kept []check
	for _, c := range checks {
		if slices.Contains(names, c.rule.Name()) {
			kept = append(kept, c)
		}
	}
	return kept
}

// collect runs the checks in order and returns all their reports. It stops
// early when ctx is cancelled.
func collect(ctx context.Context, checks []check, sink metrics.Sink) []*report.Report {
	var reports []*report.Report
	for _, c := range checks {
		if err := ctx.Err(); err != nil {
			log.Warn().Err(err).Msg("Run interrupted, skipping remaining sources")
			break
		}
		reports = append(reports, source.New(c.rule, sink).Query(c.query, c.threshold)...)
	}
	return reports
}
