package main

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/geopublish/internal/core"
)

type scanFlags struct {
	include []string
	exclude []string
	prefix  string
	style   string
}

func (f *scanFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.include, "include", nil, "only files matching these globs, e.g. '**/*.shp'")
	cmd.Flags().StringSliceVar(&f.exclude, "exclude", nil, "skip files matching these globs")
	cmd.Flags().StringVar(&f.prefix, "prefix", "", "prefix for every target name")
	cmd.Flags().StringVar(&f.style, "style", "", "style assigned to every layer")
}

// scanDir scans dir and applies the prefix and style flags.
func (f *scanFlags) scanDir(cmd *cobra.Command, opts *rootOpts, dir string) (*core.ScanResult, error) {
	res, err := core.ScanFolder(cmd.Context(), opts.fileInspector(), dir, core.ScanOptions{
		Include: f.include,
		Exclude: f.exclude,
	})
	if err != nil {
		return nil, err
	}
	core.ApplyPrefix(res.Items, f.prefix)
	if f.style != "" {
		core.ApplyStyle(res.Items, f.style)
	}
	return res, nil
}

func newScanCmd(opts *rootOpts) *cobra.Command {
	var flags scanFlags

	cmd := &cobra.Command{
		Use:   "scan <dir>",
		Short: "List the publishable files under a folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := flags.scanDir(cmd, opts, args[0])
			if err != nil {
				return err
			}

			if opts.jsonOut {
				return printJSON(out(cmd), res)
			}
			if err := printTable(out(cmd), itemHeader, itemRows(res.Items)); err != nil {
				return err
			}
			for _, s := range res.Skipped {
				pterm.Warning.Printfln("skipped %s: %s", s.Path, s.Reason)
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}
