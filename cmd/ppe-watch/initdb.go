package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sua-org/ppe-watch/internal/cameras"
)

func initDBCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "initdb",
		Short: "Create the schema and seed the item catalog and cameras",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := opts.settings()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store, err := openStore(ctx, s)
			if err != nil {
				return err
			}
			defer store.Close()

			added, err := seedCameras(ctx, cameras.NewRegistry(store), s.CamerasSeedFile)
			if err != nil {
				return err
			}
			cams, err := store.ListCameras(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "database ready (%s): %d camera(s), %d added\n", s.Database.Driver, len(cams), added)
			return nil
		},
	}
}
