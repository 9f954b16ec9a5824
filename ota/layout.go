package ota

// Bank names one of the two bootable banks relative to the running image.
type Bank int

const (
	RunningBank Bank = iota
	OtherBank
)

func (b Bank) String() string {
	if b == RunningBank {
		return "running"
	}
	return "other"
}

// Layout is the partition table derived from the flash size and the
// running bank. It is resolved once at init.
type Layout struct {
	FlashSize        uint32
	FirstInvalidByte uint32
	banks            [2]uint32
}

// NewLayout computes the layout for a flash of flashSize bytes with the
// image running from runningAddr.
func NewLayout(flashSize, runningAddr uint32) (Layout, error) {
	if flashSize < PartitionsStart+PartitionSize {
		return Layout{}, ErrFlashTooSmall
	}
	l := Layout{
		FlashSize:        flashSize,
		FirstInvalidByte: (flashSize-PartitionsStart)/PartitionSize*PartitionSize + PartitionsStart,
	}
	l.banks[RunningBank] = runningAddr
	if runningAddr != 0 {
		l.banks[OtherBank] = 0
	} else {
		l.banks[OtherBank] = PartitionsStart
	}
	return l, nil
}

// RunningAddr decodes the running bank address from the strap register.
func RunningAddr(strap uint32) uint32 {
	return StrapUnit * (strap & 0x07)
}

// BankAddr returns the flash address of bank b.
func (l Layout) BankAddr(b Bank) uint32 {
	return l.banks[b]
}

// PartitionCount is the number of partition indices addressable below
// FirstInvalidByte.
func (l Layout) PartitionCount() int {
	return int((l.FirstInvalidByte - PartitionsStart) / PartitionSize)
}

// PartitionAddr returns the base address of partition index. Index 0 is the
// bank that is not running.
func (l Layout) PartitionAddr(index int) (uint64, error) {
	if index < 0 {
		return 0, ErrInvalidPartition
	}
	if index == 0 {
		return uint64(l.banks[OtherBank]), nil
	}
	return PartitionsStart + PartitionSize*uint64(index), nil
}

// Resolve returns the absolute range for length bytes at offset within
// partition index, failing when it does not lie below FirstInvalidByte.
func (l Layout) Resolve(index int, offset uint32, length int) (start, end uint32, err error) {
	base, err := l.PartitionAddr(index)
	if err != nil {
		return 0, 0, err
	}
	s := base + uint64(offset)
	e := s + uint64(length)
	if s > uint64(l.FirstInvalidByte) || e > uint64(l.FirstInvalidByte) {
		return 0, 0, &RangeError{Partition: index, Start: s, End: e, Limit: l.FirstInvalidByte}
	}
	return uint32(s), uint32(e), nil
}
