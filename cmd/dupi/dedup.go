package main

import (
	"fmt"
	"os"

	"dupi-go/internal/app"
	"dupi-go/internal/dupi"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func policyFromFlags(cmd *cobra.Command, a *app.DupiApp) (dupi.SelectionPolicy, error) {
	name, _ := cmd.Flags().GetString("policy")
	prefer, _ := cmd.Flags().GetStringArray("prefer")
	if len(prefer) > 0 && name == "" {
		name = "prefer"
	}
	return a.Policy(name, prefer)
}

// listOptions applies --min-size over the [dedup] and [scan] defaults.
func listOptions(cmd *cobra.Command, a *app.DupiApp) (dupi.ListOptions, error) {
	minSize, _ := cmd.Flags().GetString("min-size")
	return a.ListOptions(minSize)
}

func shortHash(h string) string {
	if len(h) > 24 {
		return h[:24]
	}
	return h
}

var dupesCmd = &cobra.Command{
	Use:   "dupes",
	Short: "List groups of files with identical content",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		format, err := outputFormat(cmd)
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), "Dupes")
		if err != nil {
			return err
		}
		defer closeApp(cmd.Context(), a, &err)

		policy, err := policyFromFlags(cmd, a)
		if err != nil {
			return err
		}
		list, err := listOptions(cmd, a)
		if err != nil {
			return err
		}
		groups, err := a.Duplicates(cmd.Context(), policy, list)
		if err != nil {
			return err
		}
		if format == "json" {
			return writeJSON(os.Stdout, newDupesJSON(groups, policy))
		}
		if len(groups) == 0 {
			fmt.Println("No duplicates found.")
			return nil
		}

		var total int64
		for _, g := range groups {
			total += g.Reclaimable()
			fmt.Printf("%s  %s x %d, %s reclaimable\n",
				shortHash(g.StrongHash), humanize.IBytes(uint64(g.Size)), len(g.Members), humanize.IBytes(uint64(g.Reclaimable())))
			for _, m := range g.Members {
				marker := " "
				if g.Canonical != nil && m.Path == g.Canonical.Path {
					marker = "*"
				}
				fmt.Printf("  %s %s\n", marker, m.Path)
			}
		}
		fmt.Printf("\n%d group(s), %s reclaimable (policy: %s)\n", len(groups), humanize.IBytes(uint64(total)), policy.Name())
		return nil
	},
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Propose actions that would remove redundant copies",
	Long: "Propose actions that would remove redundant copies.\n\n" +
		"The plan is only printed. dupi never modifies the indexed trees.",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		action, _ := cmd.Flags().GetString("action")
		moveTo, _ := cmd.Flags().GetString("move-to")
		format, err := outputFormat(cmd)
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "Plan")
		if err != nil {
			return err
		}
		defer closeApp(cmd.Context(), a, &err)

		policy, err := policyFromFlags(cmd, a)
		if err != nil {
			return err
		}
		opts, err := a.PlanOptions(action, moveTo)
		if err != nil {
			return err
		}
		list, err := listOptions(cmd, a)
		if err != nil {
			return err
		}

		plan, err := a.Plan(cmd.Context(), policy, list, opts)
		if err != nil {
			return err
		}
		if format == "json" {
			return writeJSON(os.Stdout, newPlanJSON(plan))
		}
		if len(plan.Groups) == 0 {
			fmt.Println("Nothing to do.")
			return nil
		}

		for _, pg := range plan.Groups {
			fmt.Printf("# keep %s\n", pg.Canonical.Path)
			for _, act := range pg.Actions {
				fmt.Println(act.String())
			}
		}
		fmt.Printf("\n# %d group(s), %s reclaimable\n", len(plan.Groups), humanize.IBytes(uint64(plan.ReclaimableBytes)))
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Compute strong hashes for files whose fingerprints collide",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp(cmd.Context(), "Verify")
		if err != nil {
			return err
		}
		defer closeApp(cmd.Context(), a, &err)

		report, err := a.Verify(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Verified %d of %d candidate(s), hashed %s\n",
			report.Verified, report.Candidates, humanize.IBytes(uint64(report.BytesHashed)))
		printFailures(report.SoftFailures)
		return nil
	},
}
