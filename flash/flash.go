// Package flash defines the raw flash adapter used by the OTA core and the
// page-level helpers built on top of it.
//
// Addresses are byte offsets from the start of the flash device, not
// memory-mapped (XIP) addresses.
package flash

import "errors"

// Flash geometry of the B91 internal flash.
const (
	PageSize  = 256       // program/erase page
	BlockSize = 64 * 1024 // large erase block

	// ErasedWord is the value of a 32-bit word after erase.
	ErasedWord = 0xFFFFFFFF
)

// Errors
var (
	ErrOutOfBounds     = errors.New("flash: access outside device")
	ErrCrossesPage     = errors.New("flash: data crosses page boundary")
	ErrScratchTooSmall = errors.New("flash: scratch buffer smaller than a page")
	ErrPowerLoss       = errors.New("flash: simulated power loss")
)

// MID is the manufacturer/device ID returned by the flash read-ID command:
// vendor, memory type and capacity code.
type MID [3]byte

// Size returns the capacity in bytes encoded in the capacity byte.
func (m MID) Size() uint32 {
	return 1 << m[2]
}

// Device is the raw flash adapter. All calls are synchronous.
//
// ReadPage and WritePage accept any length; the adapter splits the transfer
// at page boundaries itself. WritePage only clears bits, the caller is
// responsible for erasing first.
type Device interface {
	ReadPage(addr uint32, buf []byte) error
	WritePage(addr uint32, data []byte) error
	// EraseBlock64K erases the 64 KiB block containing addr.
	EraseBlock64K(addr uint32) error
	// ErasePage erases the page containing addr.
	ErasePage(addr uint32) error
	ReadMID() (MID, error)
}

// PageBase returns the address of the page containing addr.
func PageBase(addr uint32) uint32 {
	return addr &^ (PageSize - 1)
}
