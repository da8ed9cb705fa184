package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"cyclekeeper/internal/export"
)

func newExportCmd(opts *rootOptions) *cobra.Command {
	var (
		owner   string
		formats []string
		list    bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export an owner's cycles to the artifact store",
		Example: `  cyclekeeper export --owner alice --format json --format xlsx
  cyclekeeper export --owner alice --list`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, os.Stderr, traceWriter(opts))
			if err != nil {
				return err
			}
			defer a.Close()

			var artifacts []export.Artifact
			if list {
				artifacts, err = a.exports.ListExports(cmd.Context(), owner)
			} else {
				parsed := make([]export.Format, 0, len(formats))
				for _, f := range formats {
					parsed = append(parsed, export.Format(f))
				}
				artifacts, err = a.exports.Export(cmd.Context(), owner, parsed)
			}
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tFORMAT\tSIZE\tCREATED")
			for _, art := range artifacts {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", art.Key, art.Format, art.Size, art.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner id whose cycles are exported")
	cmd.Flags().StringSliceVar(&formats, "format", nil, "json or xlsx; repeat for several (default all)")
	cmd.Flags().BoolVar(&list, "list", false, "list existing exports instead of creating one")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}
