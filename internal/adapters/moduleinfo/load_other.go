//go:build !linux

package moduleinfo

// Load returns an empty table on platforms without procfs module
// enumeration. Captures still work; frames carry profile.NoModule.
func Load() (*Table, error) {
	return Empty(), nil
}
