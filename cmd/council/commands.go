package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"council/internal/persona"
	"council/internal/store"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect committed dialogue",
}

var historySearchCmd = &cobra.Command{
	Use:   "search [terms]",
	Short: "Full-text search over committed dialogue",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		st, err := store.Open(cfg.CampaignDBPath(), cfg.LogsDir())
		if err != nil {
			return err
		}
		defer st.Close()

		hits, err := st.SearchDialogue(strings.Join(args, " "), limit)
		if err != nil {
			return err
		}
		if len(hits) == 0 {
			fmt.Println("no matches")
			return nil
		}
		for _, h := range hits {
			fmt.Printf("[%s] %s: %s\n", h.CreatedAt.Format("2006-01-02 15:04"), h.Speaker, h.Content)
		}
		return nil
	},
}

var rulingsCmd = &cobra.Command{
	Use:   "rulings",
	Short: "Manage the action ruling log",
}

var rulingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all recorded rulings",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Open(cfg.CampaignDBPath(), cfg.LogsDir())
		if err != nil {
			return err
		}
		defer st.Close()

		rulings, err := st.ListRulings()
		if err != nil {
			return err
		}
		if len(rulings) == 0 {
			fmt.Println("no rulings recorded")
			return nil
		}
		for _, r := range rulings {
			flag := ""
			if r.Overridden {
				flag = " (overridden)"
			}
			fmt.Printf("%-7s%s  %s", r.Decision, flag, r.Key)
			if r.Reason != "" {
				fmt.Printf("  - %s", r.Reason)
			}
			fmt.Println()
		}
		return nil
	},
}

var rulingsOverrideCmd = &cobra.Command{
	Use:   "override [action-key]",
	Short: "Explicitly flip a stored ruling",
	Long: `Changes an existing ruling to a new decision. This is the only way a
ruling ever changes; the pipeline never re-evaluates one implicitly.

Example:
  council rulings override "wale ankrah update treaty.status signed" --decision allowed --reason "user reversed the call"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		decision, _ := cmd.Flags().GetString("decision")
		reason, _ := cmd.Flags().GetString("reason")
		if reason == "" {
			return fmt.Errorf("an override requires --reason")
		}

		st, err := store.Open(cfg.CampaignDBPath(), cfg.LogsDir())
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.OverrideRuling(args[0], decision, reason); err != nil {
			return err
		}
		fmt.Printf("ruling overridden: %s -> %s\n", args[0], decision)
		return nil
	},
}

var personasCmd = &cobra.Command{
	Use:   "personas",
	Short: "List configured personas",
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := persona.Load(cfg.Personas.Dir)
		if err != nil {
			return err
		}
		for _, p := range registry.All() {
			tags := []string{fmt.Sprintf("max tier %d", p.MaxTier())}
			if p.Nickname != "" {
				tags = append(tags, "aka "+p.Nickname)
			}
			if p.Evaluator {
				tags = append(tags, "evaluator")
			}
			if p.Interrupt.Weight > 0 {
				tags = append(tags, fmt.Sprintf("interrupt weight %d", p.Interrupt.Weight))
			}
			fmt.Printf("%-20s %s (%s)\n", p.DisplayName, p.DomainPrimary, strings.Join(tags, ", "))
		}
		return nil
	},
}

func init() {
	historySearchCmd.Flags().Int("limit", 20, "maximum results")
	historyCmd.AddCommand(historySearchCmd)

	rulingsOverrideCmd.Flags().String("decision", store.DecisionDenied, "new decision: allowed or denied")
	rulingsOverrideCmd.Flags().String("reason", "", "reason for the override (required)")
	rulingsCmd.AddCommand(rulingsListCmd)
	rulingsCmd.AddCommand(rulingsOverrideCmd)
}
