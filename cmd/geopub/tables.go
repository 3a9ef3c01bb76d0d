package main

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/geopublish/internal/postgis"
)

func newTablesCmd(opts *rootOpts) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "tables",
		Short: "List spatial tables in the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := opts.database(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close(cmd.Context())

			var tables []postgis.Table
			if all {
				tables, err = db.ListAllTables(cmd.Context())
			} else {
				tables, err = db.ListSpatialTables(cmd.Context())
			}
			if err != nil {
				return err
			}

			if opts.jsonOut {
				return printJSON(out(cmd), tables)
			}
			return printTable(out(cmd), tableHeader, tableRows(tables))
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include tables without geometry")
	return cmd
}

func newRenameCmd(opts *rootOpts) *cobra.Command {
	var schema string

	cmd := &cobra.Command{
		Use:   "rename <old> <new>",
		Short: "Rename a table and its spatial index",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := opts.database(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close(cmd.Context())

			if err := db.RenameTable(cmd.Context(), args[0], args[1], schema); err != nil {
				return err
			}
			pterm.Success.Printfln("renamed %s to %s", args[0], args[1])
			return nil
		},
	}
	cmd.Flags().StringVar(&schema, "schema", "", "schema of the table (default PGSCHEMA)")
	return cmd
}
