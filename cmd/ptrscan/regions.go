package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"ptrscan/pointer_map"
	"ptrscan/process/memory_map"
)

func newRegionsCmd() *cobra.Command {
	var tf targetFlags
	var mapFile string
	var all bool

	cmd := &cobra.Command{
		Use:   "regions",
		Short: "List the memory regions of a process, snapshot or map file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			regions, err := loadRegions(&tf, mapFile)
			if err != nil {
				return err
			}
			if !all {
				var kept []memory_map.MemoryRegion
				for _, r := range regions {
					if memory_map.EligibleForScan(r) {
						kept = append(kept, r)
					}
				}
				regions = kept
			}
			renderRegions(cmd.OutOrStdout(), regions)
			return nil
		},
	}

	tf.register(cmd)
	cmd.Flags().StringVar(&mapFile, "map", "", "pointer map file written by dump")
	cmd.Flags().BoolVarP(&all, "all", "a", false, "include regions that are not scanned")

	return cmd
}

func loadRegions(tf *targetFlags, mapFile string) ([]memory_map.MemoryRegion, error) {
	if mapFile != "" {
		if tf.given() {
			return nil, errors.New("--map cannot be combined with --pid, --name or --snapshot")
		}
		f, err := pointer_map.Open(mapFile)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return f.Regions(), nil
	}

	t, err := tf.open()
	if err != nil {
		return nil, err
	}
	defer t.Close()
	return t.Regions()
}

func renderRegions(w io.Writer, regions []memory_map.MemoryRegion) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Start", "End", "Size", "Perms", "Category", "Module", "Name"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetAutoWrapText(false)

	var total uint64
	for _, r := range regions {
		module := ""
		if r.IsModule() {
			module = "yes"
			// the backing file is only inspectable on the host that mapped it
			if memory_map.IsExecutableImage(r.Path) {
				module = "elf"
			}
		}
		table.Append([]string{
			fmt.Sprintf("%016x", r.Start),
			fmt.Sprintf("%016x", r.End),
			fmt.Sprintf("%d", r.Size),
			r.Perms.String(),
			r.Category.String(),
			module,
			r.Label(),
		})
		total += r.Size
	}
	table.SetFooter([]string{fmt.Sprintf("%d regions", len(regions)), "", fmt.Sprintf("%d", total), "", "", "", ""})
	table.Render()
}
