package stationstream

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/edgeflare/stationstream/pkg/table"
	"github.com/spf13/cobra"
)

var tableCmd = &cobra.Command{
	Use:   "table",
	Short: "Inspect and rebuild the station table store",
}

var tableRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Replay the changelog topic into the configured store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		tbl, err := openTable(cmd)
		if err != nil {
			return err
		}
		defer tbl.Close()

		n, err := a.rebuild(cmd.Context(), tbl)
		if err != nil {
			return err
		}
		size, err := tbl.Len(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "applied %d records, %d stations\n", n, size)
		return nil
	},
}

var tableGetCmd = &cobra.Command{
	Use:   "get <station-id>",
	Short: "Print one station from the store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid station id %q", args[0])
		}
		tbl, err := openTable(cmd)
		if err != nil {
			return err
		}
		defer tbl.Close()

		st, ok, err := tbl.Get(cmd.Context(), id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("station %d not found", id)
		}
		return printJSON(cmd, st)
	},
}

var tableListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print every station in the store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		tbl, err := openTable(cmd)
		if err != nil {
			return err
		}
		defer tbl.Close()

		all, err := tbl.All(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd, all)
	},
}

func init() {
	tableCmd.AddCommand(tableRebuildCmd, tableGetCmd, tableListCmd)
}

// openTable opens the configured store without a changelog: these commands
// never write changes of their own.
func openTable(cmd *cobra.Command) (*table.Table, error) {
	store, err := table.Open(cmd.Context(), cfg.Table)
	if err != nil {
		return nil, err
	}
	return table.New(tableName, store, table.WithLogger(logger)), nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
