//go:build linux

package moduleinfo

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fllarpy/stackprobe/domain/profile"
)

const mapsFixture = `00400000-00452000 r-xp 00000000 08:02 173521 /usr/bin/app
00651000-00652000 rw-p 00051000 08:02 173521 /usr/bin/app
7f3c00000000-7f3c00021000 rw-p 00000000 00:00 0
7f3c15000000-7f3c151c0000 r-xp 00000000 08:02 135522 /lib/x86_64/libc-2.31.so
7f3c151c0000-7f3c153c0000 ---p 001c0000 08:02 135522 /lib/x86_64/libc-2.31.so
7f3c154b0000-7f3c154d0000 r-xp 00020000 08:02 135522 /lib/x86_64/libc-2.31.so
7fffb8a00000-7fffb8a21000 rw-p 00000000 00:00 0 [stack]
7fffb8bff000-7fffb8c00000 r-xp 00000000 00:00 0 [vdso]
`

func pathIdentity(path string) string { return path }

func TestParseMapsKeepsExecutableImages(t *testing.T) {
	tbl, err := parseMaps(strings.NewReader(mapsFixture), pathIdentity)
	require.NoError(t, err)

	mods := tbl.Modules()
	require.Len(t, mods, 2, "non-executable, anonymous and pseudo mappings are excluded")
	paths := []string{mods[0].Path, mods[1].Path}
	assert.Contains(t, paths, "/usr/bin/app")
	assert.Contains(t, paths, "/lib/x86_64/libc-2.31.so")
}

func TestParseMapsMergesMappingsOfOneImage(t *testing.T) {
	tbl, err := parseMaps(strings.NewReader(mapsFixture), pathIdentity)
	require.NoError(t, err)

	var prof profile.Profile
	tbl.Install(&prof)

	// Both executable libc mappings resolve to the same module entry.
	low := tbl.IndexForAddress(0x7f3c15000042)
	high := tbl.IndexForAddress(0x7f3c154b0042)
	require.NotEqual(t, profile.NoModule, low)
	assert.Equal(t, low, high)

	// The merged module base is the lowest start adjusted by its offset.
	assert.Equal(t, uintptr(0x7f3c15000000), prof.Modules[low].BaseAddress)
}

func TestIndexForAddress(t *testing.T) {
	tbl, err := parseMaps(strings.NewReader(mapsFixture), pathIdentity)
	require.NoError(t, err)

	var prof profile.Profile
	tbl.Install(&prof)

	t.Run("address inside a mapping resolves", func(t *testing.T) {
		idx := tbl.IndexForAddress(0x400123)
		require.NotEqual(t, profile.NoModule, idx)
		assert.Equal(t, "/usr/bin/app", prof.Modules[idx].Path)
	})

	t.Run("address between mappings yields NoModule", func(t *testing.T) {
		assert.Equal(t, profile.NoModule, tbl.IndexForAddress(0x600000))
	})

	t.Run("address below every mapping yields NoModule", func(t *testing.T) {
		assert.Equal(t, profile.NoModule, tbl.IndexForAddress(0x1000))
	})
}

func TestInstallDeduplicatesIntoProfile(t *testing.T) {
	tbl, err := parseMaps(strings.NewReader(mapsFixture), pathIdentity)
	require.NoError(t, err)

	var prof profile.Profile
	tbl.Install(&prof)
	tbl.Install(&prof) // a second install must not duplicate modules

	assert.Len(t, prof.Modules, 2)
}

func TestLoadEnumeratesOwnProcess(t *testing.T) {
	tbl, err := Load()
	require.NoError(t, err)
	assert.NotEmpty(t, tbl.Modules(), "a running Go test binary has at least one executable mapping")
}

func TestBuildIDOfOwnExecutable(t *testing.T) {
	exe, err := os.Executable()
	require.NoError(t, err)

	id, err := buildID(exe)
	if err != nil {
		t.Skipf("test binary carries no build ID note: %v", err)
	}
	assert.NotEmpty(t, id)
}
