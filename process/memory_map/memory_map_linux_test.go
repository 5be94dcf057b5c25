package memory_map

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMaps = `55d4c2a00000-55d4c2a02000 r--p 00000000 08:01 1311          /opt/game/game
55d4c2a02000-55d4c2a05000 r-xp 00002000 08:01 1311          /opt/game/game
55d4c3c1e000-55d4c3c3f000 rw-p 00000000 00:00 0             [heap]
7f1e5c000000-7f1e5c021000 rw-p 00000000 00:00 0
7f1e5c200000-7f1e5c228000 r--p 00000000 08:01 2002          /usr/lib/x86_64-linux-gnu/libc.so.6
7ffd1b5e0000-7ffd1b601000 rw-p 00000000 00:00 0             [stack]
7ffd1b7f2000-7ffd1b7f6000 r--p 00000000 00:00 0             [vvar]
garbage line
7ffd1b7f6000-7ffd1b7f8000 r-xp 00000000 00:00 0             /opt/game/my data.bin
`

func TestParseMaps(t *testing.T) {
	regions, err := ParseMaps(strings.NewReader(sampleMaps))
	require.NoError(t, err)
	require.Len(t, regions, 8)

	assert.Equal(t, MemoryRegion{
		Start: 0x55d4c2a02000,
		End:   0x55d4c2a05000,
		Size:  0x3000,
		Perms: PermRead | PermExec,
		Path:  "/opt/game/game",
		Name:  "game",
	}, regions[1])

	assert.Equal(t, CategoryHeap, regions[2].Category)
	assert.Equal(t, "[heap]", regions[2].Name)
	assert.Empty(t, regions[2].Path)

	assert.Empty(t, regions[3].Name)
	assert.Equal(t, "[misc]", regions[3].Label())

	assert.Equal(t, CategoryStack, regions[5].Category)
	assert.False(t, EligibleForScan(regions[6]), "vvar")
	assert.False(t, EligibleForScan(regions[4]), "system library")
	assert.Equal(t, "/opt/game/my data.bin", regions[7].Path)
}

func TestParsePerms(t *testing.T) {
	assert.Equal(t, PermRead|PermWrite, ParsePerms("rw-p"))
	assert.Equal(t, Perms(0), ParsePerms("---p"))
	assert.Equal(t, "r-x", ParsePerms("r-xs").String())
	assert.Equal(t, Perms(0), ParsePerms(""))
}
