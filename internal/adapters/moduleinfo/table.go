// Package moduleinfo enumerates the code images mapped into the current
// process so captured instruction pointers can be attributed to a module.
// On Linux the mappings come from procfs and the binary identity of each
// image is its ELF build ID; other platforms degrade to an empty table and
// frames carry no module.
package moduleinfo

import (
	"sort"

	"github.com/fllarpy/stackprobe/domain/profile"
)

// entry is one executable address range belonging to a module.
type entry struct {
	start, end uintptr
	module     int // index into Table.modules
	profileIdx int // index in the installed profile, NoModule until Install
}

// Table maps executable address ranges to modules. It is built once per
// sampling run during Prepare and read-only afterwards.
type Table struct {
	modules []profile.Module
	entries []entry
}

// Empty returns a table with no mappings; every lookup yields NoModule.
func Empty() *Table {
	return &Table{}
}

// Install deduplicates the table's modules into p and records the
// resulting indices for address lookups.
func (t *Table) Install(p *profile.Profile) {
	for i := range t.entries {
		e := &t.entries[i]
		e.profileIdx = p.AddModule(t.modules[e.module])
	}
}

// IndexForAddress returns the installed profile module index for the
// mapping containing addr, or profile.NoModule.
func (t *Table) IndexForAddress(addr uintptr) int {
	i := sort.Search(len(t.entries), func(i int) bool {
		return addr < t.entries[i].start
	}) - 1
	if i >= 0 && addr < t.entries[i].end {
		return t.entries[i].profileIdx
	}
	return profile.NoModule
}

// Modules returns the enumerated modules.
func (t *Table) Modules() []profile.Module {
	return t.modules
}

func (t *Table) sortEntries() {
	sort.Slice(t.entries, func(i, j int) bool {
		return t.entries[i].start < t.entries[j].start
	})
}
