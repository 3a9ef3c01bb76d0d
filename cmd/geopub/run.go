package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/geopublish/internal/core"
	"github.com/JonMunkholm/geopublish/internal/domain"
)

// errRunFailed makes the process exit 1 after a run published nothing.
var errRunFailed = errors.New("run failed")

type runFlags struct {
	scanFlags
	manifest  string
	dir       string
	tables    bool
	workspace string
	overwrite bool
	targetCRS string
	dryRun    bool
}

// batch is what a run publishes and where.
type batch struct {
	items     []domain.DataItem
	workspace string
	overwrite *bool
	targetCRS string
}

func newRunCmd(opts *rootOpts) *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Import and publish a batch",
		Long: `Run imports and publishes every item from a manifest, a scanned folder
or the existing spatial tables, in order. A failing item is reported and
the run moves on; the command exits 1 when no item succeeded.`,
		Example: `  geopub run --dir ./data --workspace cities --prefix city
  geopub run --manifest batch.yaml
  geopub run --tables --workspace archive --style default_polygon`,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := flags.collect(cmd, opts)
			if err != nil {
				return err
			}

			if flags.dryRun {
				if opts.jsonOut {
					return printJSON(out(cmd), b.items)
				}
				return printTable(out(cmd), itemHeader, itemRows(b.items))
			}
			return publish(cmd, opts, b)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&flags.manifest, "manifest", "", "YAML manifest listing the items")
	cmd.Flags().StringVar(&flags.dir, "dir", "", "folder to scan for items")
	cmd.Flags().BoolVar(&flags.tables, "tables", false, "publish every existing spatial table")
	cmd.Flags().StringVar(&flags.workspace, "workspace", "", "target workspace (default BATCH_WORKSPACE)")
	cmd.Flags().BoolVar(&flags.overwrite, "overwrite", true, "replace tables that already exist; false appends (default BATCH_OVERWRITE)")
	cmd.Flags().StringVar(&flags.targetCRS, "target-crs", "", "reproject every item to this CRS, e.g. EPSG:3857")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "list the items without publishing")
	cmd.MarkFlagsMutuallyExclusive("manifest", "dir")
	return cmd
}

// collect gathers the batch from the manifest, folder and table sources.
// Flags given on the command line win over manifest settings.
func (f *runFlags) collect(cmd *cobra.Command, opts *rootOpts) (*batch, error) {
	if f.manifest == "" && f.dir == "" && !f.tables {
		return nil, errors.New("one of --manifest, --dir or --tables is required")
	}

	b := &batch{}

	if f.manifest != "" {
		m, err := core.LoadManifest(f.manifest)
		if err != nil {
			return nil, err
		}
		items, err := m.Items()
		if err != nil {
			return nil, err
		}
		b.items = append(b.items, items...)
		b.workspace = m.Workspace
		b.overwrite = m.Overwrite
		b.targetCRS = m.TargetCRS
	}

	if f.dir != "" {
		res, err := f.scanFolder(cmd, opts)
		if err != nil {
			return nil, err
		}
		b.items = append(b.items, res.Items...)
	}

	if f.tables {
		db, err := opts.database(cmd.Context())
		if err != nil {
			return nil, err
		}
		tables, err := db.ListSpatialTables(cmd.Context())
		_ = db.Close(cmd.Context())
		if err != nil {
			return nil, err
		}
		b.items = append(b.items, core.ItemsFromTables(tables)...)
	}

	if f.style != "" {
		core.ApplyStyle(b.items, f.style)
	}

	if cmd.Flags().Changed("workspace") {
		b.workspace = f.workspace
	}
	if cmd.Flags().Changed("overwrite") {
		b.overwrite = &f.overwrite
	}
	if cmd.Flags().Changed("target-crs") {
		b.targetCRS = f.targetCRS
	}

	if len(b.items) == 0 {
		return nil, core.ErrNoItems
	}
	return b, nil
}

func (f *runFlags) scanFolder(cmd *cobra.Command, opts *rootOpts) (*core.ScanResult, error) {
	res, err := f.scanDir(cmd, opts, f.dir)
	if err != nil {
		return nil, err
	}
	for _, s := range res.Skipped {
		pterm.Warning.Printfln("skipped %s: %s", s.Path, s.Reason)
	}
	return res, nil
}

// publish runs the orchestrator in the foreground with a progress bar.
// Ctrl-C stops the run before its next item.
func publish(cmd *cobra.Command, opts *rootOpts, b *batch) error {
	cfg, err := opts.config()
	if err != nil {
		return err
	}
	settings, err := opts.gateways(b.workspace)
	if err != nil {
		return err
	}
	db, pub, err := settings.Build()
	if err != nil {
		return err
	}

	runOpts := core.Options{
		Schema:      cfg.Database.Schema,
		Overwrite:   cfg.Batch.Overwrite,
		TargetCRS:   cfg.Batch.TargetCRS,
		StoreParams: cfg.StoreParams(),
		Logger:      slog.Default(),
	}
	if b.overwrite != nil {
		runOpts.Overwrite = *b.overwrite
	}
	if b.targetCRS != "" {
		runOpts.TargetCRS = b.targetCRS
	}

	orch, err := core.New(db, pub, runOpts)
	if err != nil {
		return err
	}

	target := settings.Target
	pterm.Info.Printfln("publishing %d items into workspace %q", len(b.items), target.Workspace)

	bar, err := pterm.DefaultProgressbar.
		WithTotal(100).
		WithTitle("starting").
		WithRemoveWhenDone(true).
		Start()
	if err != nil {
		return err
	}

	res := orch.Run(cmd.Context(), b.items, target, core.Reporter{
		Progress: func(pct int) {
			if delta := pct - bar.Current; delta > 0 {
				bar.Add(delta)
			}
		},
		Status: func(msg string) {
			bar.UpdateTitle(msg)
		},
		ItemDone: func(_ int, item domain.DataItem, f *domain.ItemFailure) {
			if f != nil {
				pterm.Warning.Printfln("%s: %s failed: %s", item.TargetName, f.Stage, f.Reason)
				return
			}
			pterm.Success.Printfln("%s published", item.TargetName)
		},
	})
	_, _ = bar.Stop()

	return report(cmd, opts, res)
}

// report prints the batch outcome and turns a failed batch into
// errRunFailed.
func report(cmd *cobra.Command, opts *rootOpts, res *domain.BatchResult) error {
	if opts.jsonOut {
		if err := printJSON(out(cmd), res); err != nil {
			return err
		}
	} else {
		if len(res.Failures) > 0 {
			if err := printTable(out(cmd), []string{"Item", "Stage", "Reason"}, failureRows(res.Failures)); err != nil {
				return err
			}
		}
		summary := fmt.Sprintf("%s in %s", res.Message, res.Duration.Round(time.Millisecond))
		if res.OK {
			pterm.Success.Println(summary)
		} else {
			pterm.Error.Println(summary)
		}
	}

	if !res.OK {
		return errRunFailed
	}
	return nil
}
