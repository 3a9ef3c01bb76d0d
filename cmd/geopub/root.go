package main

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/geopublish/internal/config"
	"github.com/JonMunkholm/geopublish/internal/core"
	"github.com/JonMunkholm/geopublish/internal/geoserver"
	"github.com/JonMunkholm/geopublish/internal/logging"
	"github.com/JonMunkholm/geopublish/internal/postgis"
	"github.com/JonMunkholm/geopublish/internal/spatial"
)

// rootOpts are shared by every command. Configuration is loaded on first
// use so commands that only read local files work without a server.
type rootOpts struct {
	envFile  string
	logLevel string
	jsonOut  bool

	cfg       *config.Config
	inspector *spatial.Inspector
}

func newRootCmd(opts *rootOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "geopub",
		Short: "Import spatial files into PostGIS and publish them on GeoServer",
		Long: `geopub turns folders of Shapefiles, GeoJSON files and rasters into
published map layers. It will:
1. Scan a folder (or read a manifest) into a list of items
2. Import each vector item into a PostGIS table
3. Publish each table as a GeoServer layer and assign its style

Connection settings come from the environment or a .env file
(PGHOST, PGDATABASE, GEOSERVER_URL, ...).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.SetupWriter(os.Stderr, opts.logLevel, "text")
		},
	}

	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "file to seed environment variables from")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	cmd.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "print JSON instead of tables")

	cmd.AddCommand(
		newScanCmd(opts),
		newRunCmd(opts),
		newTablesCmd(opts),
		newRenameCmd(opts),
		newWorkspacesCmd(opts),
		newDatastoresCmd(opts),
		newLayersCmd(opts),
		newStylesCmd(opts),
	)
	return cmd
}

func (o *rootOpts) config() (*config.Config, error) {
	if o.cfg != nil {
		return o.cfg, nil
	}
	cfg, err := config.Load(o.envFile)
	if err != nil {
		return nil, err
	}
	o.cfg = cfg
	return cfg, nil
}

func (o *rootOpts) fileInspector() *spatial.Inspector {
	if o.inspector == nil {
		o.inspector = spatial.NewInspector(slog.Default())
	}
	return o.inspector
}

// gateways returns the settings for publishing into workspace, or the
// configured default workspace when it is empty.
func (o *rootOpts) gateways(workspace string) (core.GatewaySettings, error) {
	cfg, err := o.config()
	if err != nil {
		return core.GatewaySettings{}, err
	}
	return core.GatewaySettings{
		Params:    cfg.ConnectionParams(),
		Reader:    o.fileInspector(),
		Target:    cfg.PublishTarget(workspace),
		BatchSize: cfg.Batch.ImportBatchSize,
		Logger:    slog.Default(),
		PublisherOptions: []geoserver.Option{
			geoserver.WithTimeout(cfg.GeoServer.Timeout),
			geoserver.WithRetries(cfg.GeoServer.Retries),
		},
	}, nil
}

// database returns a connected gateway. The caller closes it.
func (o *rootOpts) database(ctx context.Context) (*postgis.Gateway, error) {
	settings, err := o.gateways("")
	if err != nil {
		return nil, err
	}
	db, _, err := settings.Build()
	if err != nil {
		return nil, err
	}
	if err := db.Connect(ctx); err != nil {
		return nil, err
	}
	return db, nil
}

func (o *rootOpts) mapServer() (*geoserver.Client, error) {
	settings, err := o.gateways("")
	if err != nil {
		return nil, err
	}
	_, pub, err := settings.Build()
	return pub, err
}

// out is where command results go; logs go to stderr.
func out(cmd *cobra.Command) io.Writer {
	return cmd.OutOrStdout()
}
