// Package ota provides Over-The-Air firmware update support for the Telink B91.
// Uses a dual-bank layout: the new image is written into the bank that is not
// running and a boot mark read by the boot ROM selects it on the next reset.
package ota

import (
	"errors"
	"fmt"

	"b91/hota/flash"
)

// Partition constants
const (
	PartitionSize   = 512 * 1024    // 8 x 64KB blocks
	PartitionsStart = PartitionSize // first OTA partition follows bank A

	// BootMarkOffset is where the boot ROM looks for BootMark in a bank.
	BootMarkOffset = 0x20

	// StrapUnit is the granularity of the boot address in the MSPI strap register.
	StrapUnit = 128 * 1024

	// DefaultInfoPartition is the partition index carrying the package info
	// component, which is never written to flash.
	DefaultInfoPartition = 6

	scratchSize = flash.PageSize
)

// BootMark requests that the boot ROM starts the bank carrying it.
var BootMark = [4]byte{'K', 'N', 'L', 'T'}

var noBootMark [4]byte

// Errors
var (
	ErrOutOfRange        = errors.New("ota: range exceeds flash size")
	ErrInvalidPartition  = errors.New("ota: invalid partition index")
	ErrInvalidArgument   = errors.New("ota: invalid argument")
	ErrNoSession         = errors.New("ota: no update in progress")
	ErrSessionActive     = errors.New("ota: update in progress")
	ErrPartitionMismatch = errors.New("ota: session already writing another partition")
	ErrNoScratch         = errors.New("ota: scratch buffer unavailable")
	ErrTargetNotErased   = errors.New("ota: rollback target is not erased")
	ErrFlashTooSmall     = errors.New("ota: flash too small for two banks")
	ErrRebootFailed      = errors.New("ota: reboot failed")
	ErrImageTooLarge     = errors.New("ota: image too large for partition")
	ErrHashMismatch      = errors.New("ota: image hash mismatch")
)

// RangeError reports an access whose [Start, End) range is not below Limit.
type RangeError struct {
	Partition int
	Start     uint64
	End       uint64
	Limit     uint32
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("ota: partition %d range [%#x, %#x) exceeds flash bound %#x",
		e.Partition, e.Start, e.End, e.Limit)
}

func (e *RangeError) Unwrap() error { return ErrOutOfRange }

// Platform is the board support consumed by the updater.
type Platform interface {
	// BootStrap returns the raw MSPI strap register; its low three bits
	// give the running bank address in StrapUnit steps.
	BootStrap() uint32
	// DisableInterrupts masks interrupts and returns the previous state.
	DisableInterrupts() uint32
	RestoreInterrupts(state uint32)
	// SetBranchPrediction enables or disables the branch target buffer.
	SetBranchPrediction(enabled bool)
	// Reboot resets the system. On hardware it does not return.
	Reboot() error
}

// Status is reported to the status hook as an update progresses.
type Status int

const (
	StatusIdle Status = iota
	StatusDownloading
	StatusCancelled
	StatusRebooting
	StatusRollingBack
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusDownloading:
		return "downloading"
	case StatusCancelled:
		return "cancelled"
	case StatusRebooting:
		return "rebooting"
	case StatusRollingBack:
		return "rolling-back"
	}
	return "unknown"
}
