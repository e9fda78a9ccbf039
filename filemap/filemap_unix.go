//go:build darwin || freebsd || openbsd || netbsd || dragonfly

package filemap

import (
	"os"

	"golang.org/x/sys/unix"
)

type bsdPlatform struct{}

func currentPlatform() platform { return bsdPlatform{} }

func (bsdPlatform) mmap(f *os.File, length int, readOnly bool) ([]byte, error) {
	prot := unix.PROT_READ | unix.PROT_WRITE
	if readOnly {
		prot = unix.PROT_READ
	}
	return unix.Mmap(int(f.Fd()), 0, length, prot, unix.MAP_SHARED)
}

// remap has no mremap(2) equivalent on Darwin/BSD: the region is unmapped
// and a fresh mapping of the grown file is established. The result may (and
// typically will) start at a different address, which is why every caller
// in this module re-derives pointers from Map.Bytes() after any operation
// that can resize rather than caching the slice across one.
func (p bsdPlatform) remap(f *os.File, old []byte, newLength int, readOnly bool) ([]byte, error) {
	if err := p.munmap(old); err != nil {
		return nil, err
	}
	return p.mmap(f, newLength, readOnly)
}

func (bsdPlatform) munmap(data []byte) error {
	return unix.Munmap(data)
}
