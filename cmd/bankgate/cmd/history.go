package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.etcd.io/bbolt"

	"github.com/jmcleod/bankgate/fx"
	"github.com/jmcleod/bankgate/history"
	bboltstorage "github.com/jmcleod/bankgate/storage/bbolt"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect the stored transaction history",
	Long:  `Commands for reading the append-only transaction history kept in the data directory.`,
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored transactions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd.Flags())
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")
		asJSON, _ := cmd.Flags().GetBool("json")
		return listHistory(cmd.OutOrStdout(), filepath.Join(cfg.DataDir, historyFile), limit, offset, asJSON)
	},
}

// listHistory opens the history file read-only, so it works next to a
// running server once the server's write lock is released.
func listHistory(w io.Writer, path string, limit, offset int, asJSON bool) error {
	repo, err := bboltstorage.NewRepositoryFromFile(path, &bbolt.Options{ReadOnly: true, Timeout: 2 * time.Second})
	if err != nil {
		return fmt.Errorf("opening history %s: %w", path, err)
	}
	defer repo.Close()

	page, err := history.New(repo).List(limit, offset)
	if err != nil {
		return fmt.Errorf("reading history: %w", err)
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(page)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tACCOUNT\tAMOUNT\tEUR\tCATEGORY\tCOUNTERPARTY")
	for _, r := range page.Records {
		eur := "n/a"
		if v, ok := r.EUR(); ok {
			eur = fx.FormatMinor(v, fx.EUR)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s %s\t%s\t%s\t%s\n",
			r.Date.Format(time.DateOnly),
			r.AccountName,
			fx.FormatMinor(r.Amount, r.Currency), r.Currency,
			eur,
			r.Category,
			r.Counterparty,
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\n%d of %d records (offset %d)\n", len(page.Records), page.Total, page.Offset)
	return nil
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd)
	historyListCmd.Flags().String("data-dir", "./data", "Directory holding history.db")
	historyListCmd.Flags().Int("limit", history.DefaultLimit, "Maximum number of records")
	historyListCmd.Flags().Int("offset", 0, "Number of records to skip")
	historyListCmd.Flags().Bool("json", false, "Print the page as JSON")
}
