package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Doitordead/Intel-irris/internal/importer"
)

func newImportCmd(c *cli) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Run one import and print its summary",
		Example: `  iris import --domains domains.txt --trees git-trees.txt
  iris import --source git --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			d, err := wire(ctx, c.cfg)
			if err != nil {
				return err
			}
			defer d.Close()

			snap, err := d.source.Fetch(ctx)
			if err != nil {
				return fmt.Errorf("fetch exports: %w", err)
			}
			summary, runErr := d.importer.Import(ctx, snap, importer.Options{
				DryRun:   dryRun,
				Encoding: c.cfg.Encoding,
			})
			if summary.ID != "" {
				out, err := json.MarshalIndent(summary, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
			}
			return runErr
		},
	}
	f := cmd.Flags()
	f.BoolVar(&dryRun, "dry-run", false, "compute every change and roll it back")
	f.String("source", "", "input source: file, git or object")
	f.String("domains", "", "domains export (path, repository path or object key)")
	f.String("trees", "", "git trees export (path, repository path or object key)")
	f.String("encoding", "", "encoding of the exports, e.g. utf-8 or latin1")
	f.String("rules", "", "governance rules file")
	return cmd
}
