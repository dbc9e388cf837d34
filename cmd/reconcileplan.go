package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ruleplane/ruleplane/internal/reconciler"
)

// liveSnapshot is the on-disk shape reconcile-plan reads in place of a live
// Registry scan: rule_name -> rule_string, exactly what liveRulesInScope
// would produce after stripping group ARNs.
type liveSnapshot map[string]string

func newReconcilePlanCommand() *cobra.Command {
	var messagePath, snapshotPath string

	cmd := &cobra.Command{
		Use:   "reconcile-plan",
		Short: "Diff a compilation message's target rules against a live-state snapshot, without touching AWS",
		Long: `reconcile-plan takes a compilation message (the "Rules" map a
Reconciler would consume off the queue) and a JSON snapshot of a scope's
live rule_name -> rule_string pairs, and prints the insert/delete/unchanged
plan the Reconciler would apply - useful for dry-running an intent change
against a captured firewall state before it ships.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := readRuleMap(messagePath)
			if err != nil {
				return err
			}
			live, err := readRuleMap(snapshotPath)
			if err != nil {
				return err
			}

			plan := reconciler.ComputePlan(target, live)
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(plan)
		},
	}

	cmd.Flags().StringVar(&messagePath, "message", "", "path to a JSON file containing the compilation message's Rules map")
	cmd.Flags().StringVar(&snapshotPath, "live", "", "path to a JSON file containing the live rule_name -> rule_string snapshot")
	cmd.MarkFlagRequired("message")
	cmd.MarkFlagRequired("live")

	return cmd
}

func readRuleMap(path string) (liveSnapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var m liveSnapshot
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse %s as a rule_name -> rule_string map: %w", path, err)
	}
	return m, nil
}
