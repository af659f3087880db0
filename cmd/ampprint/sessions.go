package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ampprint/ampprint/internal/charging"
	"github.com/ampprint/ampprint/internal/store"
)

var (
	sessionsJSON     bool
	sessionsCharger  string
	sessionsActive   bool
	sessionsComplete bool
	sessionsLimit    int
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List charging sessions",
	RunE:  listSessions,
}

var sessionsRenameCmd = &cobra.Command{
	Use:   "rename [session-id] [name]",
	Short: "Name the device behind one session",
	Long: `Sets the device name on a single session. A completed session moves to
the group carrying that name, founding one if none exists. Renaming an
active session records the name now and steers the grouping that
happens when the session completes.`,
	Args: cobra.ExactArgs(2),
	RunE: renameSession,
}

func init() {
	sessionsCmd.Flags().BoolVar(&sessionsJSON, "json", false, "Emit JSON instead of a table")
	sessionsCmd.Flags().StringVar(&sessionsCharger, "charger", "", "Only sessions from this charger")
	sessionsCmd.Flags().BoolVar(&sessionsActive, "active", false, "Only sessions still charging")
	sessionsCmd.Flags().BoolVar(&sessionsComplete, "complete", false, "Only completed sessions")
	sessionsCmd.Flags().IntVar(&sessionsLimit, "limit", 50, "Maximum sessions to list")
	sessionsCmd.AddCommand(sessionsRenameCmd)
}

func listSessions(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	sessions, err := eng.Sessions(context.Background(), store.ListOpts{
		ChargerID:    sessionsCharger,
		ActiveOnly:   sessionsActive,
		CompleteOnly: sessionsComplete,
		Limit:        sessionsLimit,
	})
	if err != nil {
		return err
	}

	if sessionsJSON {
		return printJSON(sessions)
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions recorded.")
		return nil
	}

	fmt.Printf("%-36s %-14s %-20s %-18s %-10s\n", "ID", "CHARGER", "DEVICE", "STARTED", "DURATION")
	for _, s := range sessions {
		fmt.Printf("%-36s %-14s %-20s %-18s %-10s\n",
			s.ID, s.ChargerID, deviceCell(s), s.StartedAt.Format("2006-01-02 15:04"), sessionDurationCell(s))
	}
	fmt.Printf("\n%d sessions\n", len(sessions))
	return nil
}

func renameSession(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	res, err := eng.RenameSession(context.Background(), args[0], args[1])
	if err != nil {
		return err
	}

	fmt.Printf("Session %s is now %q\n", args[0], args[1])
	if res != nil && res.Pattern != nil {
		if res.Created {
			fmt.Printf("Founded new group %s\n", res.Pattern.ID)
		} else {
			fmt.Printf("Joined group %s (%d sessions)\n", res.Pattern.ID, res.Pattern.Count)
		}
	}
	return nil
}

func deviceCell(s *charging.Session) string {
	if s.DeviceName == "" {
		return "-"
	}
	return s.DeviceName
}

func sessionDurationCell(s *charging.Session) string {
	if !s.Complete() {
		return "charging"
	}
	return s.Duration().Round(time.Minute).String()
}
