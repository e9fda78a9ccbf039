//go:build linux

package filemap

import (
	"os"

	"golang.org/x/sys/unix"
)

type linuxPlatform struct{}

func currentPlatform() platform { return linuxPlatform{} }

func (linuxPlatform) mmap(f *os.File, length int, readOnly bool) ([]byte, error) {
	prot := unix.PROT_READ | unix.PROT_WRITE
	if readOnly {
		prot = unix.PROT_READ
	}
	return unix.Mmap(int(f.Fd()), 0, length, prot, unix.MAP_SHARED)
}

// remap uses Linux's mremap(2), which can grow a mapping in place (or move
// it, transparently to the caller) without an intervening munmap. This is
// the one GOOS in this module's portability matrix where the backing store
// can usually avoid a full unmap+mmap cycle on growth.
func (linuxPlatform) remap(f *os.File, old []byte, newLength int, readOnly bool) ([]byte, error) {
	return unix.Mremap(old, newLength, unix.MREMAP_MAYMOVE)
}

func (linuxPlatform) munmap(data []byte) error {
	return unix.Munmap(data)
}
