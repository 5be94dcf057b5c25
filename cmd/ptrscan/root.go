package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const rootLongDescription = `ptrscan records which locations of a process hold pointers into its
mapped memory and searches that pointer graph for module-relative paths
(module+offset -> offset -> ...) that lead to a target address.

Settings can come from flags, from ./ptrscan.yaml or from PTRSCAN_*
environment variables (PTRSCAN_SCAN_MAX_DEPTH=4).`

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ptrscan",
		Short:         "Pointer map builder and pointer path scanner",
		Long:          rootLongDescription,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().BoolP("verbose", "v", viper.GetBool(logVerboseKey), "report progress while working")
	bindFlagToConfig(cmd.PersistentFlags().Lookup("verbose"), logVerboseKey)

	cmd.PersistentFlags().Int("width", viper.GetInt(dumpPointerWidthKey), "pointer width of the target in bytes (4 or 8)")
	bindFlagToConfig(cmd.PersistentFlags().Lookup("width"), dumpPointerWidthKey)

	cmd.PersistentFlags().Bool("unaligned", viper.GetBool(dumpUnalignedKey), "consider pointers at any byte offset, not only aligned ones")
	bindFlagToConfig(cmd.PersistentFlags().Lookup("unaligned"), dumpUnalignedKey)

	cmd.AddCommand(
		newDumpCmd(),
		newScanCmd(),
		newVerifyCmd(),
		newRegionsCmd(),
		newSnapshotCmd(),
	)
	return cmd
}

// bindFlagToConfig wires a Cobra flag to a Viper key so config/env values feed the flag.
func bindFlagToConfig(flag *pflag.Flag, key string) {
	if flag == nil {
		cobra.CheckErr(fmt.Errorf("flag for config key %q not found", key))
		return
	}

	cobra.CheckErr(viper.BindPFlag(key, flag))
}

// Execute runs the command line and exits 1 on any error.
func Execute() {
	if err := readConfig(configFolderPath); err != nil {
		fmt.Fprintln(os.Stderr, "ptrscan:", err)
		os.Exit(1)
	}

	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ptrscan:", err)
		os.Exit(1)
	}
}
