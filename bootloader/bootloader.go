// Package bootloader implements the pre-main boot stage's redirection
// contract: a run address word kept in flash that, when set, makes the
// stage jump into another partition before the firmware initialises.
//
// This is independent of the boot mark used by the boot ROM (package ota);
// the two are kept separate on purpose.
package bootloader

import (
	"encoding/binary"

	"b91/hota/flash"
	"b91/hota/ota"
)

const (
	// FlashStart is where the flash is mapped in the CPU address space.
	FlashStart = 0x20000000

	// MetaDataAddr is the flash offset of the run address word: the last
	// page of the first megabyte.
	MetaDataAddr = 1024*1024 - flash.PageSize

	// NoOverride is the erased run address, meaning "boot this image".
	NoOverride = 0xFFFFFFFF
)

// Decision is what the boot stage does with the current image.
type Decision struct {
	Jump  bool   // leave the running image
	Entry uint32 // CPU address to jump to when Jump is set
}

// ReadRunAddr returns the stored run address.
func ReadRunAddr(dev flash.Device) (uint32, error) {
	var word [4]byte
	if err := dev.ReadPage(MetaDataAddr, word[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(word[:]), nil
}

// Select decides, for a boot stage executing at pc, whether to continue or
// jump to the partition the run address points into.
func Select(dev flash.Device, pc uint32) (Decision, error) {
	runAddr, err := ReadRunAddr(dev)
	if err != nil {
		return Decision{}, err
	}
	if runAddr == NoOverride {
		return Decision{}, nil
	}

	current := (pc - FlashStart) / ota.PartitionSize
	needed := runAddr / ota.PartitionSize
	if current == needed {
		return Decision{}, nil
	}
	return Decision{Jump: true, Entry: runAddr + FlashStart}, nil
}

// SaveRunAddress stores addr as the run address. The metadata page is only
// erased when it already holds a value.
func SaveRunAddress(dev flash.Device, addr uint32) error {
	cur, err := ReadRunAddr(dev)
	if err != nil {
		return err
	}
	if cur != NoOverride {
		if err := dev.ErasePage(MetaDataAddr); err != nil {
			return err
		}
	}
	var word [4]byte
	binary.LittleEndian.PutUint32(word[:], addr)
	return dev.WritePage(MetaDataAddr, word[:])
}

// ClearRunAddress removes any override.
func ClearRunAddress(dev flash.Device) error {
	cur, err := ReadRunAddr(dev)
	if err != nil || cur == NoOverride {
		return err
	}
	return dev.ErasePage(MetaDataAddr)
}
