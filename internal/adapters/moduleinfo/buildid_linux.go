//go:build linux

package moduleinfo

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

var errNoBuildID = errors.New("build ID note not found")

// buildID extracts the binary identity of an ELF image: the GNU build-id
// note, falling back to the Go build-id note. The file is mapped read-only
// rather than copied; build IDs are resolved once per run during Prepare,
// never while a target is frozen.
func buildID(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if fi.Size() < 64 {
		return "", fmt.Errorf("%s: too small for an ELF image", path)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(fi.Size()), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return "", fmt.Errorf("mmap %s: %w", path, err)
	}
	defer unix.Munmap(data)

	ef, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", path, err)
	}

	if id, err := gnuBuildID(ef); err == nil {
		return id, nil
	}
	return goBuildID(ef)
}

// gnuBuildID reads .note.gnu.build-id: a 12-byte note header (namesz,
// descsz, type), the 4-aligned owner name, then the ID bytes.
func gnuBuildID(ef *elf.File) (string, error) {
	sect := ef.Section(".note.gnu.build-id")
	if sect == nil {
		return "", errNoBuildID
	}
	data, err := sect.Data()
	if err != nil {
		return "", fmt.Errorf("read .note.gnu.build-id: %w", err)
	}
	if len(data) < 16 {
		return "", fmt.Errorf(".note.gnu.build-id too small")
	}
	namesz := binary.LittleEndian.Uint32(data[0:4])
	descsz := binary.LittleEndian.Uint32(data[4:8])
	descOff := 12 + int(namesz+3)&^3
	if descsz == 0 || descOff+int(descsz) > len(data) {
		return "", fmt.Errorf(".note.gnu.build-id malformed")
	}
	return hex.EncodeToString(data[descOff : descOff+int(descsz)]), nil
}

// goBuildID reads .note.go.buildid: a 12-byte note header plus the
// 4-byte "Go\x00\x00" owner, then descsz bytes of ID string.
func goBuildID(ef *elf.File) (string, error) {
	sect := ef.Section(".note.go.buildid")
	if sect == nil {
		return "", errNoBuildID
	}
	data, err := sect.Data()
	if err != nil {
		return "", fmt.Errorf("read .note.go.buildid: %w", err)
	}
	if len(data) < 16 {
		return "", fmt.Errorf(".note.go.buildid too small")
	}
	descsz := binary.LittleEndian.Uint32(data[4:8])
	if descsz == 0 || 16+int(descsz) > len(data) {
		return "", fmt.Errorf(".note.go.buildid malformed")
	}
	return string(data[16 : 16+descsz]), nil
}
