//go:build linux

package moduleinfo

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fllarpy/stackprobe/domain/profile"
)

// Load enumerates the executable mappings of the current process.
func Load() (*Table, error) {
	f, err := os.Open("/proc/self/maps")
	if err != nil {
		return nil, fmt.Errorf("open process maps: %w", err)
	}
	defer f.Close()
	return parseMaps(f, identityFor)
}

// identityFor resolves the binary identity of an image, preferring the ELF
// build ID and falling back to the file path when no note is present.
func identityFor(path string) string {
	id, err := buildID(path)
	if err != nil || id == "" {
		return path
	}
	return id
}

// parseMaps reads procfs maps lines of the form
//
//	start-end perms offset dev inode path
//
// keeping executable file-backed mappings. Mappings of the same image
// share one module; the module base is the lowest mapping start adjusted
// by its file offset.
func parseMaps(r io.Reader, identity func(string) string) (*Table, error) {
	t := Empty()
	byPath := make(map[string]int)

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 6 {
			continue
		}
		perms, path := fields[1], fields[5]
		if !strings.Contains(perms, "x") || strings.HasPrefix(path, "[") {
			continue
		}
		addrs := strings.SplitN(fields[0], "-", 2)
		if len(addrs) != 2 {
			continue
		}
		start, err := strconv.ParseUint(addrs[0], 16, 64)
		if err != nil {
			continue
		}
		end, err := strconv.ParseUint(addrs[1], 16, 64)
		if err != nil {
			continue
		}
		offset, err := strconv.ParseUint(fields[2], 16, 64)
		if err != nil {
			continue
		}

		base := uintptr(start - offset)
		idx, ok := byPath[path]
		if !ok {
			t.modules = append(t.modules, profile.Module{
				BaseAddress: base,
				ID:          identity(path),
				Path:        path,
			})
			idx = len(t.modules) - 1
			byPath[path] = idx
		} else if base < t.modules[idx].BaseAddress {
			t.modules[idx].BaseAddress = base
		}
		t.entries = append(t.entries, entry{
			start:      uintptr(start),
			end:        uintptr(end),
			module:     idx,
			profileIdx: profile.NoModule,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan process maps: %w", err)
	}
	t.sortEntries()
	return t, nil
}
