package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"jira-reporter/internal/anemometer"
	"jira-reporter/internal/classifier"
	"jira-reporter/internal/jira"
	"jira-reporter/internal/logging"
	"jira-reporter/internal/logstore"
	"jira-reporter/internal/metrics"
	"jira-reporter/internal/report"
	"jira-reporter/internal/reporter"
	"jira-reporter/internal/rules"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

var (
	dryRun bool
	only   []string
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Query all sources and report recurring issues to Jira",
	Long: `Runs the checklist: every source is queried over the lookback period and the
issues seen at least as often as their threshold are reported to Jira.
Failures are logged; the command always exits with 0 once configured.`,
	Run: func(cmd *cobra.Command, args []string) {
		logging.WithRun(uuid.NewString())

		if err := cfg.Validate(dryRun); err != nil {
			log.Fatal().Err(err).Msg("Invalid configuration")
		}
		tables, err := classifier.LoadTables(cfg.ConfigDir)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load classifier tables")
		}

		store, err := logstore.NewClient(cfg.Logstore)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create log store client")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		deps := rules.Deps{
			Store:         store,
			Period:        cfg.LookbackPeriod,
			KibanaURL:     cfg.KibanaURL,
			Anemometer:    anemometer.NewClient(cfg.AnemometerURL),
			AnemometerURL: cfg.AnemometerURL,
			Owners:        tables.Owners,
		}
		checks := filterChecks(checklist(deps), only)
		log.Info().Int("checks", len(checks)).Dur("period", cfg.LookbackPeriod).Bool("dryRun", dryRun).Msg("Running checklist")

		reports := collect(ctx, checks, metrics.NewPushSink(cfg.PushgatewayURL))

		if dryRun {
			for _, r := range reports {
				log.Info().Msg(r.String())
			}
			log.Info().Int("reports", len(reports)).Msg("Dry run, nothing reported")
			return
		}

		j := reporter.New(jira.NewClient(cfg.Jira), classifier.New(tables), cfg.Reporter)
		created := send(ctx, reports, j.Report, rate.NewLimiter(rate.Every(cfg.ReportInterval), 1))
		log.Info().Int("reports", len(reports)).Int("created", created).Msg("Run finished")
	},
}

// send files the reports one by one, paced by limiter, and returns how many
// tickets were created.
func send(ctx context.Context, reports []*report.Report, file func(*report.Report) bool, limiter *rate.Limiter) int {
	created := 0
	for _, r := range reports {
		if err := limiter.Wait(ctx); err != nil {
			log.Warn().Err(err).Msg("Run interrupted, not reporting the remaining issues")
			break
		}
		if file(r) {
			created++
		}
	}
	return created
}

func init() {
	checkCmd.Flags().BoolVar(&dryRun, "dry-run", false, "log the reports instead of sending them to Jira")
	checkCmd.Flags().StringSliceVar(&only, "only", nil, "run the checks of these rules only (e.g. PHPErrors,Helios)")
	rootCmd.AddCommand(checkCmd)
}
