package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newSnapshotCmd() *cobra.Command {
	var tf targetFlags
	var output string

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Save the readable memory of a process for offline dumps and scans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if output == "" {
				return errors.New("--output is required")
			}
			if tf.snapshot != "" {
				return errors.New("snapshot needs a live process, use --pid or --name")
			}
			t, err := tf.open()
			if err != nil {
				return err
			}
			defer t.Close()

			proc, ok := t.Snapshot.(interface{ Save(string) error })
			if !ok {
				return fmt.Errorf("%s cannot be saved", t.label)
			}
			if err := proc.Save(output); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "snapshot of %s saved to %s\n", t.label, output)
			return nil
		},
	}

	tf.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "", "directory to write the snapshot to")

	return cmd
}
