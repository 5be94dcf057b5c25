package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ptrscan/pointer_map"
)

func newDumpCmd() *cobra.Command {
	var tf targetFlags
	var output string

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Build the pointer map of a process or snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if output == "" {
				return fmt.Errorf("--output is required")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runDump(ctx, &tf, output, cmd.OutOrStdout())
		},
	}

	tf.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "", "pointer map file to write")

	cmd.Flags().Int("chunk-size", viper.GetInt(dumpChunkSizeKey), "bytes read per chunk")
	bindFlagToConfig(cmd.Flags().Lookup("chunk-size"), dumpChunkSizeKey)

	cmd.Flags().Int("workers", viper.GetInt(dumpWorkersKey), "regions scanned in parallel")
	bindFlagToConfig(cmd.Flags().Lookup("workers"), dumpWorkersKey)

	return cmd
}

func runDump(ctx context.Context, tf *targetFlags, output string, out io.Writer) error {
	log := logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "dump"))

	width, err := pointerWidth()
	if err != nil {
		return err
	}

	t, err := tf.open()
	if err != nil {
		return err
	}
	defer t.Close()

	_, eligible, err := t.index()
	if err != nil {
		return err
	}

	f, err := os.Create(output)
	if err != nil {
		return err
	}
	defer f.Close()

	w, err := pointer_map.NewWriter(f, width, eligible.Regions())
	if err != nil {
		return err
	}

	opts := pointer_map.BuildOptions{
		PointerWidth: width,
		ChunkSize:    viper.GetInt(dumpChunkSizeKey),
		Unaligned:    viper.GetBool(dumpUnalignedKey),
		Workers:      viper.GetInt(dumpWorkersKey),
	}

	progress := &pointer_map.Progress{}
	if viper.GetBool(logVerboseKey) {
		stop := reportProgress(progress)
		defer stop()
	}

	log.Infoln("Dumping", t.label, "to", output)
	buildErr := pointer_map.Build(ctx, t, eligible, eligible, opts, w, progress)

	// whatever was written before a cancellation is still a valid map
	if err := w.Flush(); err != nil {
		return err
	}
	if buildErr != nil {
		return buildErr
	}
	if err := f.Close(); err != nil {
		return err
	}

	stats := progress.Stats()
	fmt.Fprintf(out, "%d edges from %d regions (%d bytes read) written to %s\n", w.Count(), stats.RegionsDone, stats.BytesRead, output)
	return nil
}

// reportProgress prints build progress to stderr once a second until the
// returned function is called.
func reportProgress(progress *pointer_map.Progress) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s := progress.Stats()
				fmt.Fprintf(os.Stderr, "\rregions %d/%d  %d MB  %d edges", s.RegionsDone, s.RegionsTotal, s.BytesRead>>20, s.EdgesFound)
			case <-done:
				fmt.Fprintln(os.Stderr)
				return
			}
		}
	}()
	return func() { close(done) }
}
