package hexdump

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode"

	"ptrscan/process"
	"ptrscan/process/memory_map"

	"github.com/Moonlight-Companies/gologger/coloransi"
)

// HexDumpOptions defines options for customizing the hexdump output
type HexDumpOptions struct {
	// BytesPerLine defines the number of bytes to display per line
	BytesPerLine int

	// GroupSize defines the grouping of bytes (usually 1, 2, 4, or 8)
	GroupSize int

	// ShowASCII determines whether to show the ASCII representation
	ShowASCII bool

	// Colors enables ANSI colors
	Colors bool

	// OffsetColor is the color for the address column
	OffsetColor coloransi.ColorCode

	// HexColor is the color for the hex values
	HexColor coloransi.ColorCode

	// ZeroColor is the color for zero bytes (0x00)
	ZeroColor coloransi.ColorCode

	// NonPrintableColor is the color for non-printable ASCII characters
	NonPrintableColor coloransi.ColorCode

	// MarkColor is the color for the marked bytes
	MarkColor coloransi.ColorCode

	// PointerColor and CodePointerColor color annotated pointers into data
	// and executable regions
	PointerColor     coloransi.ColorCode
	CodePointerColor coloransi.ColorCode

	// MaxLines is the maximum number of lines to show (0 for no limit)
	MaxLines int

	// Mark highlights MarkLen bytes starting at this address
	Mark    uint64
	MarkLen int

	// Pointers, when set, annotates every aligned value that lands in one
	// of its regions
	Pointers     *memory_map.Index
	PointerWidth process.PointerWidth
}

// DefaultOptions returns the default hexdump options
func DefaultOptions() HexDumpOptions {
	return HexDumpOptions{
		BytesPerLine: 16,
		GroupSize:    1,
		ShowASCII:    true,
		Colors:            true,
		OffsetColor:       coloransi.Cyan,
		HexColor:          coloransi.Green,
		ZeroColor:         coloransi.BrightBlack,
		NonPrintableColor: coloransi.BrightBlack,
		MarkColor:         coloransi.BrightRed,
		PointerColor:      coloransi.Yellow,
		CodePointerColor:  coloransi.Magenta,
		PointerWidth:      process.PointerWidth64,
	}
}

// Dump creates a hex dump of data, which was read from address base.
func Dump(data []byte, base uint64, options HexDumpOptions) string {
	var buffer bytes.Buffer
	DumpToWriter(&buffer, data, base, options)
	return buffer.String()
}

// DumpToWriter writes a hex dump of the given data to the specified writer
func DumpToWriter(writer io.Writer, data []byte, base uint64, options HexDumpOptions) {
	if options.BytesPerLine <= 0 {
		options.BytesPerLine = 16
	}
	if options.GroupSize <= 0 {
		options.GroupSize = 1
	}
	if !options.PointerWidth.Valid() {
		options.PointerWidth = process.PointerWidth64
	}

	for line, offset := 0, 0; offset < len(data); line, offset = line+1, offset+options.BytesPerLine {
		if options.MaxLines > 0 && line >= options.MaxLines {
			fmt.Fprintf(writer, "... %d more bytes\n", len(data)-offset)
			break
		}
		end := min(offset+options.BytesPerLine, len(data))
		formatLine(writer, data[offset:end], base+uint64(offset), options)
	}
}

func (o HexDumpOptions) paint(c coloransi.ColorCode, s string) string {
	if !o.Colors {
		return s
	}
	return coloransi.Foreground(c, s)
}

func (o HexDumpOptions) marked(addr uint64) bool {
	return o.MarkLen > 0 && addr >= o.Mark && addr-o.Mark < uint64(o.MarkLen)
}

func formatLine(writer io.Writer, data []byte, addr uint64, options HexDumpOptions) {
	fmt.Fprint(writer, options.paint(options.OffsetColor, fmt.Sprintf("%016x", addr)), "  ")

	var groups []string
	var group strings.Builder
	for i, b := range data {
		c := options.HexColor
		switch {
		case options.marked(addr + uint64(i)):
			c = options.MarkColor
		case b == 0:
			c = options.ZeroColor
		}
		group.WriteString(options.paint(c, fmt.Sprintf("%02x", b)))
		if (i+1)%options.GroupSize == 0 || i == len(data)-1 {
			groups = append(groups, group.String())
			group.Reset()
		}
	}
	fmt.Fprint(writer, strings.Join(groups, " "))

	// pad short lines so the ASCII column stays aligned
	if missing := options.BytesPerLine - len(data); missing > 0 {
		full := (options.BytesPerLine + options.GroupSize - 1) / options.GroupSize
		cur := (len(data) + options.GroupSize - 1) / options.GroupSize
		fmt.Fprint(writer, strings.Repeat(" ", missing*2+full-cur))
	}

	if options.ShowASCII {
		fmt.Fprint(writer, " | ")
		for _, b := range data {
			switch {
			case b == 0:
				fmt.Fprint(writer, options.paint(options.ZeroColor, "."))
			case b >= 0x80 || !unicode.IsPrint(rune(b)):
				fmt.Fprint(writer, options.paint(options.NonPrintableColor, "."))
			default:
				fmt.Fprint(writer, string(rune(b)))
			}
		}
	}

	if options.Pointers != nil {
		if notes := pointerNotes(data, addr, options); len(notes) > 0 {
			fmt.Fprint(writer, " | ", strings.Join(notes, " "))
		}
	}

	fmt.Fprintln(writer)
}

// pointerNotes lists the aligned values in data that point into a known
// region, as "0x... label". Values inside a module image are labelled
// module+offset.
func pointerNotes(data []byte, addr uint64, options HexDumpOptions) []string {
	w := uint64(options.PointerWidth)
	first := 0
	if rem := addr % w; rem != 0 {
		first = int(w - rem)
	}

	var notes []string
	for i := first; i+int(w) <= len(data); i += int(w) {
		v, err := process.DecodeAddress(data[i:], options.PointerWidth)
		if err != nil || v == 0 {
			continue
		}
		r, ok := options.Pointers.Contains(uint64(v))
		if !ok {
			continue
		}
		c := options.PointerColor
		if r.IsExecutable() {
			c = options.CodePointerColor
		}
		label := r.Label()
		if name, off, ok := options.Pointers.ModuleFor(uint64(v)); ok {
			label = fmt.Sprintf("%s+0x%x", name, off)
		}
		notes = append(notes, options.paint(c, fmt.Sprintf("0x%x", uint64(v)))+" "+label)
	}
	return notes
}
