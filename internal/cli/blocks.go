package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var clearedBy string

var blocksCmd = &cobra.Command{
	Use:   "blocks",
	Short: "Inspect and clear sticky session blocks",
}

var blocksListCmd = &cobra.Command{
	Use:   "list <session-id>",
	Short: "List a session's block history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRouter()
		if err != nil {
			return err
		}
		defer rt.Close()

		records, err := rt.Blocks().List(args[0])
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No block records.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tGATE\tCLEARED\tREASON")
		for _, rec := range records {
			fmt.Fprintf(w, "%s\t%s\t%v\t%s\n",
				rec.CreatedAt.Format("2006-01-02 15:04:05"), rec.Gate, rec.Cleared, truncate(rec.Reason, 60))
		}
		return w.Flush()
	},
}

var blocksClearCmd = &cobra.Command{
	Use:   "clear <session-id>",
	Short: "Clear a session's sticky block",
	Long: `Clear a session's sticky block.

Clearing is the only way out of a custodiet block: it resets the block
flag and appends an auditable clear marker to the session's block history.
Existing block records are never deleted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRouter()
		if err != nil {
			return err
		}
		defer rt.Close()

		if err := rt.Blocks().Clear(args[0], clearedBy); err != nil {
			return err
		}
		fmt.Printf("Block cleared for session %s.\n", args[0])
		return nil
	},
}

func init() {
	blocksClearCmd.Flags().StringVar(&clearedBy, "by", "operator", "Who is clearing the block (recorded in the clear marker)")

	blocksCmd.AddCommand(blocksListCmd)
	blocksCmd.AddCommand(blocksClearCmd)
	rootCmd.AddCommand(blocksCmd)
}
