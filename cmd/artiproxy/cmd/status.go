package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"artiproxy/internal/repository"
)

var statusCmd = &cobra.Command{
	Use:   "status [repository...]",
	Short: "Show the whitelist state of repositories",
	Long: `Shows repository id, kind, publishing state and the outcome of the
last remote discovery for all or named repositories.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		repos, err := a.selectRepositories(args)
		if err != nil {
			return err
		}
		return printStatus(a, repos)
	},
}

func printStatus(a *app, repos []*repository.Repository) error {
	if len(repos) == 0 {
		fmt.Println("No repositories configured.")
		return nil
	}

	fmt.Printf("%-20s %-7s %-14s %-13s %-12s %s\n", "REPOSITORY", "KIND", "PUBLISHING", "DISCOVERY", "STRATEGY", "MESSAGE")
	for _, repo := range repos {
		st, err := a.manager.StatusFor(repo)
		if err != nil {
			return fmt.Errorf("status of %s: %w", repo.ID, err)
		}
		msg := st.Publishing.Message
		if st.Discovery.Message != "" {
			msg = st.Discovery.Message
		}
		fmt.Printf("%-20s %-7s %-14s %-13s %-12s %s\n",
			repo.ID, repo.Kind, st.Publishing.Status, st.Discovery.Status, st.Discovery.StrategyID, msg)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
