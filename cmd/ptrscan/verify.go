package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"ptrscan/hexdump"
	"ptrscan/pointer_path"
	"ptrscan/process"
)

type verifyFlags struct {
	target    targetFlags
	paths     []string
	pathsFile string
	address   string
	preview   int
}

func newVerifyCmd() *cobra.Command {
	var vf verifyFlags

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Follow saved pointer paths in a process or snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runVerify(&vf, cmd.OutOrStdout())
		},
	}

	vf.target.register(cmd)
	cmd.Flags().StringArrayVar(&vf.paths, "path", nil, `path to follow, e.g. "game+0x20 -> +0x8" (repeatable)`)
	cmd.Flags().StringVar(&vf.pathsFile, "paths", "", "file of paths written by scan")
	cmd.Flags().StringVarP(&vf.address, "target", "t", "", "expected address, hex; defaults to the target stored in --paths")
	cmd.Flags().IntVar(&vf.preview, "preview", 0, "hexdump this many bytes at each resolved address")

	return cmd
}

func (vf *verifyFlags) load() ([]pointer_path.PointerPath, string, error) {
	var paths []pointer_path.PointerPath
	expected := vf.address

	if vf.pathsFile != "" {
		f, err := os.Open(vf.pathsFile)
		if err != nil {
			return nil, "", err
		}
		defer f.Close()
		stored, loaded, err := pointer_path.Read(f)
		if err != nil {
			return nil, "", fmt.Errorf("%s: %w", vf.pathsFile, err)
		}
		paths = append(paths, loaded...)
		if expected == "" {
			expected = stored
		}
	}
	for _, s := range vf.paths {
		p, err := pointer_path.Parse(s)
		if err != nil {
			return nil, "", err
		}
		paths = append(paths, p)
	}
	if len(paths) == 0 {
		return nil, "", errors.New("no paths given, use --path or --paths")
	}
	return paths, expected, nil
}

func runVerify(vf *verifyFlags, out io.Writer) error {
	paths, expected, err := vf.load()
	if err != nil {
		return err
	}

	var want process.ProcessMemoryAddress
	if expected != "" {
		if want, err = parseAddress(expected); err != nil {
			return err
		}
	}

	width, err := pointerWidth()
	if err != nil {
		return err
	}

	t, err := vf.target.open()
	if err != nil {
		return err
	}
	defer t.Close()

	all, _, err := t.index()
	if err != nil {
		return err
	}

	failed := 0
	for _, p := range paths {
		addr, err := p.Verify(t, all, width)
		switch {
		case err != nil:
			failed++
			fmt.Fprintf(out, "BROKEN   %s: %v\n", p, err)
			continue
		case expected != "" && addr != want:
			failed++
			fmt.Fprintf(out, "MISMATCH %s: 0x%x, expected 0x%x\n", p, uint64(addr), uint64(want))
		default:
			fmt.Fprintf(out, "OK       %s: 0x%x\n", p, uint64(addr))
		}

		if vf.preview > 0 {
			buf := make([]byte, vf.preview)
			n, _ := t.ReadAt(addr, buf)
			opts := hexdump.DefaultOptions()
			opts.Colors = out == os.Stdout
			opts.Pointers = all
			opts.PointerWidth = width
			opts.Mark = uint64(addr)
			opts.MarkLen = int(width)
			hexdump.DumpToWriter(out, buf[:n], uint64(addr), opts)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d paths failed", failed, len(paths))
	}
	return nil
}
