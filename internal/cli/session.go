package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ihavespoons/gatehouse/internal/logger"
	"github.com/ihavespoons/gatehouse/internal/router"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect and manage session state",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions with persisted state",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRouter()
		if err != nil {
			return err
		}
		defer rt.Close()

		namespaces, err := rt.Store().List()
		if err != nil {
			return err
		}
		if len(namespaces) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SESSION\tHYDRATED\tTASK\tTOOL CALLS\tBLOCKED")
		for _, ns := range namespaces {
			st, err := rt.Store().Get(ns)
			if err != nil {
				fmt.Fprintf(w, "%s\t(unreadable)\t\t\t\n", ns)
				continue
			}
			fmt.Fprintf(w, "%s\t%v\t%v\t%d\t%v\n",
				ns, !st.HydrationPending, st.TaskBound, st.ToolCalls, st.CustodietBlockActive)
		}
		return w.Flush()
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show a session's full state record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRouter()
		if err != nil {
			return err
		}
		defer rt.Close()

		st, err := rt.Store().Get(args[0])
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var sessionEventsCmd = &cobra.Command{
	Use:   "events <session-id>",
	Short: "Show a session's recent gate decisions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRouter()
		if err != nil {
			return err
		}
		defer rt.Close()

		if rt.Audit() == nil {
			return fmt.Errorf("audit trail is disabled")
		}
		decisions, err := rt.Audit().RecentDecisions(args[0], eventLimit)
		if err != nil {
			return err
		}
		if len(decisions) == 0 {
			fmt.Println("No recorded decisions.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tEVENT\tTOOL\tGATE\tVERDICT\tMESSAGE")
		for _, d := range decisions {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				d.Timestamp.Format("15:04:05"), d.EventType, d.ToolName, d.Gate, d.Verdict, truncate(d.Message, 60))
		}
		return w.Flush()
	},
}

var sessionResetCmd = &cobra.Command{
	Use:   "reset <session-id>",
	Short: "Reset a session's state to defaults",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRouter()
		if err != nil {
			return err
		}
		defer rt.Close()

		if err := rt.Store().Reset(args[0]); err != nil {
			return err
		}
		fmt.Printf("Session %s reset.\n", args[0])
		return nil
	},
}

var eventLimit int

func init() {
	sessionEventsCmd.Flags().IntVarP(&eventLimit, "limit", "n", 30, "Maximum decisions to show")

	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionEventsCmd)
	sessionCmd.AddCommand(sessionResetCmd)
	rootCmd.AddCommand(sessionCmd)
}

// openRouter loads config and constructs a router for management
// subcommands, with quiet logging unless --verbose.
func openRouter() (*router.Router, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if verbose {
		_ = logger.Init("debug", cfg.Settings.LogFile)
	} else {
		logger.InitQuiet()
	}
	return router.New(cfg)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
