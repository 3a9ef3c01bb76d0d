package main

import (
	"os"
	"path/filepath"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/geopublish/internal/geoserver"
	"github.com/JonMunkholm/geopublish/internal/naming"
	"github.com/JonMunkholm/geopublish/internal/styles"
)

// listCmd builds a command that prints one map server collection.
func listCmd(opts *rootOpts, use, short string, args cobra.PositionalArgs,
	list func(cmd *cobra.Command, c *geoserver.Client, args []string) (geoserver.RefList, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.mapServer()
			if err != nil {
				return err
			}
			refs, err := list(cmd, c, args)
			if err != nil {
				return err
			}
			if opts.jsonOut {
				return printJSON(out(cmd), refs.Names())
			}
			return printTable(out(cmd), []string{"Name"}, refRows(refs))
		},
	}
}

func newWorkspacesCmd(opts *rootOpts) *cobra.Command {
	return listCmd(opts, "workspaces", "List map server workspaces", cobra.NoArgs,
		func(cmd *cobra.Command, c *geoserver.Client, _ []string) (geoserver.RefList, error) {
			return c.ListWorkspaces(cmd.Context())
		})
}

func newDatastoresCmd(opts *rootOpts) *cobra.Command {
	return listCmd(opts, "datastores <workspace>", "List the data stores of a workspace", cobra.ExactArgs(1),
		func(cmd *cobra.Command, c *geoserver.Client, args []string) (geoserver.RefList, error) {
			return c.ListDatastores(cmd.Context(), args[0])
		})
}

func newLayersCmd(opts *rootOpts) *cobra.Command {
	return listCmd(opts, "layers <workspace>", "List the layers of a workspace", cobra.ExactArgs(1),
		func(cmd *cobra.Command, c *geoserver.Client, args []string) (geoserver.RefList, error) {
			return c.ListLayers(cmd.Context(), args[0])
		})
}

func newStylesCmd(opts *rootOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "styles",
		Short: "List and upload SLD styles",
	}

	var listWorkspace string
	list := listCmd(opts, "list", "List styles", cobra.NoArgs,
		func(cmd *cobra.Command, c *geoserver.Client, _ []string) (geoserver.RefList, error) {
			return c.ListStyles(cmd.Context(), listWorkspace)
		})
	list.Flags().StringVar(&listWorkspace, "workspace", "", "list a workspace's own styles")

	cmd.AddCommand(list, newInstallDefaultsCmd(opts), newUploadStyleCmd(opts))
	return cmd
}

func newInstallDefaultsCmd(opts *rootOpts) *cobra.Command {
	var workspace string

	cmd := &cobra.Command{
		Use:   "install-defaults",
		Short: "Upload the built-in point, line and polygon styles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.mapServer()
			if err != nil {
				return err
			}
			for _, s := range styles.Defaults() {
				if err := c.UploadStyle(cmd.Context(), s.Name, s.SLD, workspace); err != nil {
					return err
				}
				pterm.Success.Printfln("installed %s", s.Name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&workspace, "workspace", "", "install into this workspace instead of globally")
	return cmd
}

func newUploadStyleCmd(opts *rootOpts) *cobra.Command {
	var (
		workspace string
		name      string
	)

	cmd := &cobra.Command{
		Use:   "upload <file.sld>",
		Short: "Upload an SLD document as a style",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sld, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if name == "" {
				name = styleNameFromPath(args[0])
			}

			c, err := opts.mapServer()
			if err != nil {
				return err
			}
			if err := c.UploadStyle(cmd.Context(), name, string(sld), workspace); err != nil {
				return err
			}
			pterm.Success.Printfln("uploaded style %s", name)
			return nil
		},
	}
	cmd.Flags().StringVar(&workspace, "workspace", "", "upload into this workspace instead of globally")
	cmd.Flags().StringVar(&name, "name", "", "style name (default: file name)")
	return cmd
}

// styleNameFromPath derives a style name from an SLD file name.
func styleNameFromPath(path string) string {
	return naming.Normalize(naming.StripExt(filepath.Base(path)))
}
