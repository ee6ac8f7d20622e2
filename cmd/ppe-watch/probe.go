package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sua-org/ppe-watch/internal/capture"
)

func probeCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "List the capture devices that can be opened",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := opts.settings()
			if err != nil {
				return err
			}
			backend, err := capture.GetBackend(s.Capture.Backend)
			if err != nil {
				return err
			}
			// ListPhysical never looks cameras up.
			m := capture.NewManager(nil, backend.Devices, captureParams(s), nil)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "INDEX\tRESOLUTION")
			devices := m.ListPhysical()
			for _, d := range devices {
				fmt.Fprintf(w, "%d\t%s\n", d.Index, d.Resolution)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if len(devices) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "no devices found in 0..%d\n", capture.MaxPhysicalIndex)
			}
			return nil
		},
	}
}
