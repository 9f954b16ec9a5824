//go:build linux || darwin

package flash

import (
	"fmt"
	"math/bits"
	"os"

	"golang.org/x/sys/unix"
)

// Image is a Device backed by a memory-mapped flash image file, so the
// contents survive between runs of the host tools.
type Image struct {
	*Memory
	f   *os.File
	mem []byte
}

// CreateImage creates (or truncates) path as an erased image of size bytes
// and maps it.
func CreateImage(path string, size uint32) (*Image, error) {
	if size < BlockSize || bits.OnesCount32(size) != 1 {
		return nil, fmt.Errorf("flash: image size %d is not a power of two >= 64KiB", size)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, err
	}
	img, err := mapImage(f, size)
	if err != nil {
		return nil, err
	}
	for i := range img.mem {
		img.mem[i] = 0xFF
	}
	return img, nil
}

// OpenImage maps an existing image file. Its size must be a power of two.
func OpenImage(path string) (*Image, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	size := fi.Size()
	if size < BlockSize || size > 1<<31 || bits.OnesCount64(uint64(size)) != 1 {
		f.Close()
		return nil, fmt.Errorf("flash: %s: size %d is not a power of two >= 64KiB", path, size)
	}
	return mapImage(f, uint32(size))
}

func mapImage(f *os.File, size uint32) (*Image, error) {
	mem, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %v", f.Name(), err)
	}
	return &Image{Memory: newMemoryOn(mem), f: f, mem: mem}, nil
}

// Close flushes the mapping to the file and releases it.
func (img *Image) Close() error {
	err := unix.Msync(img.mem, unix.MS_SYNC)
	if uerr := unix.Munmap(img.mem); err == nil {
		err = uerr
	}
	if cerr := img.f.Close(); err == nil {
		err = cerr
	}
	return err
}
