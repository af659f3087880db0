package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ampprint/ampprint/internal/pattern"
)

var groupsJSON bool

var groupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "List device groups",
	Long: `Lists every recognized device group: its name, how many sessions it
holds, and the typical session length once two or more sessions agree.`,
	RunE: listGroups,
}

var groupsRenameCmd = &cobra.Command{
	Use:   "rename [group-id] [name]",
	Short: "Rename a group and all its sessions",
	Args:  cobra.ExactArgs(2),
	RunE:  renameGroup,
}

var groupsMergeCmd = &cobra.Command{
	Use:   "merge [source-id] [target-id]",
	Short: "Merge one group into another",
	Long: `Moves every session of the source group into the target group and
recomputes the target's fingerprint. The source group is removed.`,
	Args: cobra.ExactArgs(2),
	RunE: mergeGroups,
}

var groupsDeleteCmd = &cobra.Command{
	Use:   "delete [group-id]",
	Short: "Delete a group, keeping its sessions",
	Args:  cobra.ExactArgs(1),
	RunE:  deleteGroup,
}

func init() {
	groupsCmd.Flags().BoolVar(&groupsJSON, "json", false, "Emit JSON instead of a table")
	groupsCmd.AddCommand(groupsRenameCmd)
	groupsCmd.AddCommand(groupsMergeCmd)
	groupsCmd.AddCommand(groupsDeleteCmd)
}

func listGroups(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	groups := eng.Groups()
	if groupsJSON {
		return printJSON(groups)
	}

	if len(groups) == 0 {
		fmt.Println("No device groups yet. Complete a few charging sessions first.")
		return nil
	}

	fmt.Printf("%-36s %-24s %-8s %-10s %-12s\n", "ID", "NAME", "COUNT", "AVG", "LAST SEEN")
	for _, g := range groups {
		fmt.Printf("%-36s %-24s %-8d %-10s %-12s\n",
			g.ID, g.DeviceName, g.Count, durationCell(g.Durations), g.LastSeen.Format("2006-01-02"))
	}
	fmt.Printf("\n%d groups\n", len(groups))
	return nil
}

func renameGroup(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	pat, err := eng.RenameGroup(context.Background(), args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Printf("Renamed group %s to %q (%d sessions updated)\n", pat.ID, pat.DeviceName, pat.Count)
	return nil
}

func mergeGroups(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	res, err := eng.MergeGroups(context.Background(), args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Printf("Merged %d sessions into %q (%s), now %d sessions\n",
		len(res.AbsorbedIDs), res.Pattern.DeviceName, res.Pattern.ID, res.Pattern.Count)
	return nil
}

func deleteGroup(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	pat, err := eng.DeleteGroup(context.Background(), args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Deleted group %q (%s); its %d sessions keep their names\n",
		pat.DeviceName, pat.ID, pat.Count)
	return nil
}

func durationCell(d *pattern.DurationStats) string {
	if d == nil {
		return "-"
	}
	return d.Average.Round(time.Minute).String()
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
