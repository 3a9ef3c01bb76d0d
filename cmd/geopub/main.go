// Command geopub scans folders of spatial files, imports them into PostGIS
// and publishes them as GeoServer layers from the command line.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd(&rootOpts{}).ExecuteContext(ctx)
	stop()

	if err != nil {
		// A failed run has already printed its summary.
		if !errors.Is(err, errRunFailed) {
			pterm.Error.Println(err)
		}
		os.Exit(1)
	}
}
