package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"artiproxy/internal/repository"
)

var discoverCmd = &cobra.Command{
	Use:   "discover [repository...]",
	Short: "Recompute and publish whitelists once",
	Long: `Runs local discovery for hosted repositories, remote discovery for
proxies and merges group whitelists, then prints the resulting status.
Without arguments every repository is processed, groups last.`,
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

		failed := 0
		for _, repo := range groupsLast(repos) {
			if err := a.manager.Republish(cmd.Context(), repo); err != nil {
				fmt.Printf("%-20s failed: %v\n", repo.ID, err)
				failed++
			}
		}
		if err := printStatus(a, repos); err != nil {
			return err
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d repositories failed", failed, len(repos))
		}
		return nil
	},
}

// groupsLast orders groups after the repositories they may contain so a
// single pass publishes complete merged whitelists.
func groupsLast(repos []*repository.Repository) []*repository.Repository {
	out := make([]*repository.Repository, 0, len(repos))
	var groups []*repository.Repository
	for _, r := range repos {
		if r.IsGroup() {
			groups = append(groups, r)
			continue
		}
		out = append(out, r)
	}
	return append(out, groups...)
}

func init() {
	rootCmd.AddCommand(discoverCmd)
}
