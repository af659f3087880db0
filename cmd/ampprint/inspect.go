package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ampprint/ampprint/internal/diagnose"
	"github.com/ampprint/ampprint/internal/similarity"
)

var reclusterWipe bool

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose [session-id]",
	Short: "Explain how a session was (or would be) grouped",
	Long: `Walks one session through the matching pipeline and reports the verdict:
whether it carries a manual name, lacks enough readings for a
fingerprint, already belongs to a group, or how close it comes to the
existing groups.`,
	Args: cobra.ExactArgs(1),
	RunE: runDiagnose,
}

var reclusterCmd = &cobra.Command{
	Use:   "recluster",
	Short: "Rebuild every group from session history",
	Long: `Replays all completed sessions through the matcher in a stable order.
Manually named sessions keep their names. With --wipe the existing
groups are discarded first instead of being reused as seeds.`,
	RunE: runRecluster,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show session, reading, and group counts",
	RunE:  runStats,
}

func init() {
	reclusterCmd.Flags().BoolVar(&reclusterWipe, "wipe", false, "Discard existing groups before rebuilding")
}

func runDiagnose(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	rep, err := eng.DiagnoseSession(context.Background(), args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Session %s\n", rep.SessionID)
	fmt.Printf("Verdict: %s\n", rep.Verdict)
	fmt.Printf("Detail:  %s\n", rep.Detail)
	fmt.Printf("Readings: %d total, %d usable\n", rep.ReadingCount, rep.UsableCount)
	if rep.Profile != nil {
		fmt.Printf("Fingerprint: mean %.2f W, median %.2f W, peak ratio %.2f\n",
			rep.Profile.Mean, rep.Profile.Median, rep.Profile.PeakPowerRatio)
	}
	if len(rep.Candidates) > 0 {
		fmt.Println("\nClosest groups:")
		for _, c := range rep.Candidates {
			marker := " "
			if c.Similarity >= similarity.MatchThreshold {
				marker = "*"
			}
			fmt.Printf("  %s %.3f  %-24s %s\n", marker, c.Similarity, c.DeviceName, c.PatternID)
		}
	}
	if rep.Verdict == diagnose.VerdictNoMatch || rep.Verdict == diagnose.VerdictWeakMatch {
		fmt.Println("\nTip: name the session with 'ampprint sessions rename' to teach the matcher.")
	}
	return nil
}

func runRecluster(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	rep, err := eng.Recluster(context.Background(), reclusterWipe)
	if err != nil {
		return err
	}
	fmt.Printf("Rebuilt %d groups from %d sessions (%d skipped as too short)\n",
		rep.Patterns, rep.Clustered, rep.Skipped)
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	d, err := eng.Diagnostics(context.Background())
	if err != nil {
		return err
	}

	fmt.Println("ampprint")
	fmt.Println("========")
	fmt.Printf("Sessions: %d (%d active)\n", d.Sessions, d.ActiveSessions)
	fmt.Printf("Readings: %d\n", d.Readings)
	fmt.Printf("Groups:   %d\n", d.Groups)
	fmt.Printf("Database: %s\n", cfg.DBPath.Value)
	if d.SnapshotPath != "" {
		fmt.Printf("Snapshot: %s\n", d.SnapshotPath)
	}
	return nil
}
