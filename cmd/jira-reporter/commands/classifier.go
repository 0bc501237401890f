package commands

import (
	"errors"

	"jira-reporter/internal/classifier"
	"jira-reporter/internal/jira"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	classifierProjects []string
	ucpDir             string
)

var updateClassifierCmd = &cobra.Command{
	Use:   "update-classifier-config",
	Short: "Regenerate the component and path tables used to route tickets",
	Long: `Lists the components of the given Jira projects into components.yaml and turns
core.csv and extensions.csv (both in the config directory) into paths.yaml.
A CSV row naming a component Jira does not know about aborts the update.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Jira.BaseURL == "" {
			return errors.New("JIRA_URL is not set")
		}

		components, err := classifier.FetchComponents(jira.NewClient(cfg.Jira), classifierProjects...)
		if err != nil {
			return err
		}
		paths, err := classifier.BuildPaths(cfg.ConfigDir, components)
		if err != nil {
			return err
		}

		if err := classifier.WriteTable(cfg.ConfigDir, classifier.TableComponents, components); err != nil {
			return err
		}
		if err := classifier.WriteTable(cfg.ConfigDir, classifier.TablePaths, paths); err != nil {
			return err
		}
		log.Info().Int("components", len(components)).Int("paths", len(paths)).Msg("Classifier tables updated")
		return nil
	},
}

var ucpOwnersCmd = &cobra.Command{
	Use:   "update-ucp-owners",
	Short: "Regenerate the unified platform product owners table",
	RunE: func(cmd *cobra.Command, args []string) error {
		owners, err := classifier.ScanOwners(ucpDir)
		if err != nil {
			return err
		}
		return classifier.WriteTable(cfg.ConfigDir, classifier.TableOwners, owners)
	},
}

func init() {
	updateClassifierCmd.Flags().StringSliceVar(&classifierProjects, "projects",
		[]string{classifier.ProjectMain, classifier.ProjectSER}, "Jira projects to list components of")
	ucpOwnersCmd.Flags().StringVar(&ucpDir, "ucp-dir", "../unified-platform/", "unified platform checkout to scan")

	rootCmd.AddCommand(updateClassifierCmd)
	rootCmd.AddCommand(ucpOwnersCmd)
}
