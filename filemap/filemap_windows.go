//go:build windows

package filemap

import (
	"os"
	"unsafe"

	"golang.org/x/sys/windows"
)

type windowsPlatform struct{}

func currentPlatform() platform { return windowsPlatform{} }

func (windowsPlatform) mmap(f *os.File, length int, readOnly bool) ([]byte, error) {
	protect := uint32(windows.PAGE_READWRITE)
	access := uint32(windows.FILE_MAP_WRITE)
	if readOnly {
		protect = windows.PAGE_READONLY
		access = windows.FILE_MAP_READ
	}

	sizeHigh := uint32(uint64(length) >> 32)
	sizeLow := uint32(uint64(length) & 0xFFFFFFFF)

	h, err := windows.CreateFileMapping(windows.Handle(f.Fd()), nil, protect, sizeHigh, sizeLow, nil)
	if err != nil {
		return nil, err
	}
	defer windows.CloseHandle(h)

	addr, err := windows.MapViewOfFile(h, access, 0, 0, uintptr(length))
	if err != nil {
		return nil, err
	}

	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), length), nil
}

// remap has no in-place equivalent on Windows: the view and its mapping
// object are closed and a fresh mapping of the grown file is opened. See
// the Darwin/BSD implementation for the same discipline.
func (p windowsPlatform) remap(f *os.File, old []byte, newLength int, readOnly bool) ([]byte, error) {
	if err := p.munmap(old); err != nil {
		return nil, err
	}
	return p.mmap(f, newLength, readOnly)
}

func (windowsPlatform) munmap(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	addr := uintptr(unsafe.Pointer(&data[0]))
	return windows.UnmapViewOfFile(addr)
}
