package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ptrscan/pointer_map"
	"ptrscan/pointer_path"
	"ptrscan/process/memory_map"
	"ptrscan/search"
)

type scanFlags struct {
	target  targetFlags
	mapFile string
	modules []string
	offset  string
	address string
	format  string
	output  string
}

func newScanCmd() *cobra.Command {
	var sf scanFlags

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Search for pointer paths from a module to a target address",
		Long: `Search for pointer paths from a module to a target address.

The pointer graph comes from a map file (--map) or is read on demand from
a live process or snapshot (--pid, --name, --snapshot). Without --offset
every pointer stored in the module image is a possible start.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runScan(ctx, &sf, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	sf.target.register(cmd)
	cmd.Flags().StringVar(&sf.mapFile, "map", "", "pointer map file written by dump")
	cmd.Flags().StringSliceVarP(&sf.modules, "module", "m", nil, "anchor module name (repeatable)")
	cmd.Flags().StringVar(&sf.offset, "offset", "", "static offset inside the module, signed hex (0x20, -0x10)")
	cmd.Flags().StringVarP(&sf.address, "target", "t", "", "target address, hex")
	cmd.Flags().StringVarP(&sf.format, "format", "f", "text", "output format: text, yaml or json")
	cmd.Flags().StringVarP(&sf.output, "output", "o", "", "write paths to this file instead of stdout")

	cmd.Flags().IntP("depth", "d", viper.GetInt(scanMaxDepthKey), "maximum number of dereferences")
	bindFlagToConfig(cmd.Flags().Lookup("depth"), scanMaxDepthKey)

	cmd.Flags().Uint64("max-offset", viper.GetUint64(scanMaxOffsetKey), "maximum |offset| per step")
	bindFlagToConfig(cmd.Flags().Lookup("max-offset"), scanMaxOffsetKey)

	cmd.Flags().Int("max-results", viper.GetInt(scanMaxResultsKey), "stop after this many paths, 0 for no limit")
	bindFlagToConfig(cmd.Flags().Lookup("max-results"), scanMaxResultsKey)

	cmd.Flags().Bool("allow-stack", viper.GetBool(scanAllowStackKey), "allow paths through stack memory")
	bindFlagToConfig(cmd.Flags().Lookup("allow-stack"), scanAllowStackKey)

	cmd.Flags().Int("workers", viper.GetInt(scanWorkersKey), "anchors searched in parallel")
	bindFlagToConfig(cmd.Flags().Lookup("workers"), scanWorkersKey)

	return cmd
}

// edgeSource opens the pointer graph for a scan, from a map file or from
// live memory.
func (sf *scanFlags) edgeSource() (search.EdgeSource, *memory_map.Index, func() error, error) {
	if sf.mapFile != "" {
		if sf.target.given() {
			return nil, nil, nil, errors.New("--map cannot be combined with --pid, --name or --snapshot")
		}
		f, err := pointer_map.Open(sf.mapFile)
		if err != nil {
			return nil, nil, nil, err
		}
		defer f.Close()

		m, err := f.Map()
		if err != nil {
			return nil, nil, nil, err
		}
		ix, err := m.Index()
		if err != nil {
			return nil, nil, nil, err
		}
		return pointer_map.NewGraph(m.Edges), ix, func() error { return nil }, nil
	}

	width, err := pointerWidth()
	if err != nil {
		return nil, nil, nil, err
	}
	t, err := sf.target.open()
	if err != nil {
		return nil, nil, nil, err
	}
	_, eligible, err := t.index()
	if err != nil {
		t.Close()
		return nil, nil, nil, err
	}
	live := pointer_map.NewLiveEdges(t, eligible, width, !viper.GetBool(dumpUnalignedKey))
	return live, eligible, t.Close, nil
}

func (sf *scanFlags) anchors() ([]search.Anchor, error) {
	if len(sf.modules) == 0 {
		return nil, errors.New("--module is required")
	}
	var anchors []search.Anchor
	for _, m := range sf.modules {
		if sf.offset == "" {
			anchors = append(anchors, search.ModuleAnchor(m))
			continue
		}
		off, err := parseOffset(sf.offset)
		if err != nil {
			return nil, err
		}
		anchors = append(anchors, search.StaticAnchor(m, off))
	}
	return anchors, nil
}

func runScan(ctx context.Context, sf *scanFlags, stdout, stderr io.Writer) error {
	log := logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "scan"))

	if sf.address == "" {
		return errors.New("--target is required")
	}
	targetAddr, err := parseAddress(sf.address)
	if err != nil {
		return err
	}
	format, err := pointer_path.ParseFormat(sf.format)
	if err != nil {
		return err
	}
	anchors, err := sf.anchors()
	if err != nil {
		return err
	}

	edges, index, closeSource, err := sf.edgeSource()
	if err != nil {
		return err
	}
	defer closeSource()

	scanner := search.NewScanner(edges, index,
		search.WithMaxDepth(viper.GetInt(scanMaxDepthKey)),
		search.WithMaxOffset(viper.GetUint64(scanMaxOffsetKey)),
		search.WithMaxResults(viper.GetInt(scanMaxResultsKey)),
		search.WithAllowStack(viper.GetBool(scanAllowStackKey)),
		search.WithWorkers(viper.GetInt(scanWorkersKey)),
	)

	log.Infoln("Scanning for", fmt.Sprintf("0x%x", uint64(targetAddr)), "from", len(anchors), "anchors")
	res, err := scanner.ScanAnchors(ctx, anchors, targetAddr)
	if err != nil {
		return err
	}

	out := stdout
	if sf.output != "" {
		f, err := os.Create(sf.output)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	if err := pointer_path.Write(out, format, fmt.Sprintf("0x%x", uint64(targetAddr)), res.Paths); err != nil {
		return err
	}

	fmt.Fprintf(stderr, "%d paths (%s)\n", len(res.Paths), res.Status)
	return nil
}
