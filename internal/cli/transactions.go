package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/watzon/cobble/internal/database"
)

var (
	txSession string
	txLimit   int
)

var transactionsCmd = &cobra.Command{
	Use:     "transactions",
	Aliases: []string{"tx"},
	Short:   "Inspect the shop ledger",
	Long: `Inspect shop transactions recorded by a session.

Examples:
  cobble transactions list -s shop         Latest state of each transaction
  cobble transactions history Alice -s shop  Every transition of a buyer`,
}

var transactionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List transactions by latest state",
	RunE:  runTransactionsList,
}

var transactionsHistoryCmd = &cobra.Command{
	Use:   "history <buyer>",
	Short: "Show every transition of a buyer",
	Args:  cobra.ExactArgs(1),
	RunE:  runTransactionsHistory,
}

func init() {
	for _, c := range []*cobra.Command{transactionsListCmd, transactionsHistoryCmd} {
		c.Flags().StringVarP(&txSession, "session", "s", "", "Session ID (required)")
		c.Flags().IntVar(&txLimit, "limit", 50, "Maximum rows")
		_ = c.MarkFlagRequired("session")
	}

	transactionsCmd.AddCommand(transactionsListCmd)
	transactionsCmd.AddCommand(transactionsHistoryCmd)

	rootCmd.AddCommand(transactionsCmd)
}

func runTransactionsList(cmd *cobra.Command, args []string) error {
	_, db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	txs, err := database.NewTransitionStore(db).Transactions(cmd.Context(), txSession, txLimit)
	if err != nil {
		return err
	}
	if len(txs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No transactions recorded.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tBUYER\tITEM\tQTY\tPRICE\tRECEIVED\tSTATE\tUPDATED")
	for _, tx := range txs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			tx.ID, tx.Buyer, tx.Item, tx.Quantity, tx.Expected, tx.Received, tx.State,
			tx.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func runTransactionsHistory(cmd *cobra.Command, args []string) error {
	_, db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	history, err := database.NewTransitionStore(db).History(cmd.Context(), txSession, args[0], txLimit)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No transactions recorded for %s.\n", args[0])
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tTRANSACTION\tITEM\tQTY\tSTATE\tREASON")
	for _, t := range history {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			t.CreatedAt.Local().Format("2006-01-02 15:04:05"), t.TransactionID, t.Item, t.Quantity, t.State, t.Reason)
	}
	return w.Flush()
}
