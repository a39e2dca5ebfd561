package main

import (
	"fmt"
	"os"
	"time"

	"dupi-go/internal/app"
	"dupi-go/internal/dupi"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// scanOptions starts from the [scan] config section and applies the flags
// the user set.
func scanOptions(cmd *cobra.Command, a *app.DupiApp) (dupi.ScanOptions, error) {
	opts, err := a.ScanDefaults()
	if err != nil {
		return opts, err
	}
	flags := cmd.Flags()
	if flags.Changed("follow-symlinks") {
		opts.FollowSymlinks, _ = flags.GetBool("follow-symlinks")
	}
	exclude, _ := flags.GetStringArray("exclude")
	opts.Exclude = append(opts.Exclude, exclude...)
	if workers, _ := flags.GetInt("workers"); workers > 0 {
		opts.Workers = workers
	}
	if lazy, _ := flags.GetBool("lazy"); lazy {
		opts.StrongHash = dupi.StrongHashLazy
	}
	return opts, nil
}

var scanCmd = &cobra.Command{
	Use:   "scan PATH",
	Short: "Index a directory tree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		verbose, _ := cmd.Flags().GetBool("verbose")
		format, err := outputFormat(cmd)
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "Scan")
		if err != nil {
			return err
		}
		defer closeApp(cmd.Context(), a, &err)

		opts, err := scanOptions(cmd, a)
		if err != nil {
			return err
		}

		report, err := a.Scan(cmd.Context(), args[0], opts)
		switch {
		case report == nil:
		case format == "json":
			if werr := writeJSON(os.Stdout, newScanJSON(report)); werr != nil && err == nil {
				return werr
			}
		default:
			printScanReport(report, verbose)
		}
		if err != nil {
			return fmt.Errorf("scan failed: %w", err)
		}
		return nil
	},
}

func printScanReport(r *dupi.ScanReport, verbose bool) {
	fmt.Printf("Run #%d  %s  generation %d  %s\n", r.RunID, r.Root, r.Generation, r.Status)
	fmt.Printf("  indexed:  %d file(s)\n", r.FilesIndexed)
	fmt.Printf("  hashed:   %d file(s), %s\n", r.FilesHashed, humanize.IBytes(uint64(r.BytesHashed)))
	if r.MarkedMissing > 0 {
		fmt.Printf("  missing:  %d record(s)\n", r.MarkedMissing)
	}
	if len(r.SoftFailures) == 0 {
		return
	}
	fmt.Printf("  failures: %d (%d subtree(s) skipped)\n", len(r.SoftFailures), len(r.TraversalFailures()))
	if !verbose {
		fmt.Printf("  run `dupi history --run %d` to list them\n", r.RunID)
		return
	}
	printFailures(r.SoftFailures)
}

func printFailures(failures []*dupi.SoftFailure) {
	for _, f := range failures {
		fmt.Printf("  %-9s  %s: %s\n", f.Kind, f.Path, f.Reason)
	}
}

var watchCmd = &cobra.Command{
	Use:   "watch PATH",
	Short: "Scan a tree and rescan it whenever it changes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp(cmd.Context(), "Watch")
		if err != nil {
			return err
		}
		defer closeApp(cmd.Context(), a, &err)

		opts, err := scanOptions(cmd, a)
		if err != nil {
			return err
		}

		fmt.Printf("Watching %s (Ctrl-C to stop)\n", args[0])
		return a.Watch(cmd.Context(), args[0], opts, func(r *dupi.ScanReport, err error) {
			now := time.Now().Format("15:04:05")
			if r != nil {
				fmt.Printf("%s  run #%d  %s  %d indexed, %d hashed, %d missing, %d failure(s)\n",
					now, r.RunID, r.Status, r.FilesIndexed, r.FilesHashed, r.MarkedMissing, len(r.SoftFailures))
			}
			if err != nil {
				fmt.Printf("%s  scan failed: %v\n", now, err)
			}
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status PATH",
	Short: "Show the catalog record of a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp(cmd.Context(), "Status")
		if err != nil {
			return err
		}
		defer closeApp(cmd.Context(), a, &err)

		rec, err := a.Status(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if rec == nil {
			fmt.Printf("%s: not indexed\n", args[0])
			return nil
		}

		fmt.Printf("Path:        %s\n", rec.Path)
		fmt.Printf("Kind:        %s\n", rec.Kind)
		if rec.Kind == dupi.KindSymlink {
			fmt.Printf("Target:      %s\n", rec.LinkTarget)
		}
		fmt.Printf("Size:        %s (%d bytes)\n", humanize.IBytes(uint64(rec.Size)), rec.Size)
		fmt.Printf("Modified:    %s\n", rec.ModTime.Local().Format("2006-01-02 15:04:05"))
		fmt.Printf("Status:      %s (generation %d)\n", rec.Status, rec.Generation)
		fmt.Printf("Inode:       %d:%d\n", rec.Device, rec.Inode)
		fmt.Printf("Fingerprint: %s\n", nullOr(rec.FastFingerprint.String, rec.FastFingerprint.Valid))
		fmt.Printf("Strong hash: %s\n", nullOr(rec.StrongHash.String, rec.StrongHash.Valid))
		fmt.Printf("Updated:     %s\n", humanize.Time(rec.UpdatedAt))
		return nil
	},
}

func nullOr(s string, valid bool) string {
	if !valid {
		return "-"
	}
	return s
}

var listCmd = &cobra.Command{
	Use:   "list ROOT",
	Short: "List the catalog records of a root",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		missing, _ := cmd.Flags().GetBool("missing")

		a, err := newApp(cmd.Context(), "List")
		if err != nil {
			return err
		}
		defer closeApp(cmd.Context(), a, &err)

		recs, err := a.Records(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		for _, rec := range recs {
			if missing && rec.Status != dupi.StatusMissing {
				continue
			}
			hashed := " "
			if rec.StrongHash.Valid {
				hashed = "H"
			}
			fmt.Printf("%-7s %s %-10s %9s  %s\n",
				rec.Status, hashed, rec.Kind, humanize.IBytes(uint64(rec.Size)), rec.Path)
		}
		return nil
	},
}

var rootsCmd = &cobra.Command{
	Use:   "roots",
	Short: "List tracked roots",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp(cmd.Context(), "Roots")
		if err != nil {
			return err
		}
		defer closeApp(cmd.Context(), a, &err)

		roots, err := a.Roots(cmd.Context())
		if err != nil {
			return err
		}
		if len(roots) == 0 {
			fmt.Println("No roots tracked.")
			return nil
		}
		for _, r := range roots {
			fmt.Printf("%s  generation %d (complete %d)  added %s\n",
				r.Path, r.LastGeneration, r.CompletedGeneration, r.CreatedAt.Local().Format("2006-01-02"))
		}
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View scan run history",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		limit, _ := cmd.Flags().GetInt("limit")
		runID, _ := cmd.Flags().GetInt64("run")

		a, err := newApp(cmd.Context(), "History")
		if err != nil {
			return err
		}
		defer closeApp(cmd.Context(), a, &err)

		if runID > 0 {
			failures, err := a.RunFailures(cmd.Context(), runID)
			if err != nil {
				return err
			}
			if len(failures) == 0 {
				fmt.Printf("Run #%d recorded no failures.\n", runID)
				return nil
			}
			printFailures(failures)
			return nil
		}

		runs, err := a.History(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No scans recorded.")
			return nil
		}

		for _, r := range runs {
			duration := ""
			if r.FinishedAt.Valid {
				duration = r.FinishedAt.Time.Sub(r.StartedAt).Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%-4d  %s  %-9s  %-10s  %6d files  %9s  %3d failures  %s\n",
				r.ID,
				r.StartedAt.Local().Format("2006-01-02 15:04:05"),
				r.Status,
				duration,
				r.FilesIndexed,
				humanize.IBytes(uint64(r.BytesHashed)),
				r.SoftFailures,
				r.RootPath,
			)
		}
		return nil
	},
}
