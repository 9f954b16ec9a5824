package ota

import (
	"fmt"
	"io"
	"log/slog"

	"b91/hota/flash"
)

const noPartition = -1

// Updater holds the state of one OTA session against a flash device.
// It is not safe for concurrent use; a single task owns it.
type Updater struct {
	dev      flash.Device
	platform Platform
	layout   Layout
	active   int
	meta     MetaData

	logger        *slog.Logger
	infoPartition int
	scratch       func(n int) []byte
	statusHook    func(Status, int)
}

// Option configures an Updater.
type Option func(*Updater)

// WithLogger sets the logger used for update events.
func WithLogger(logger *slog.Logger) Option {
	return func(u *Updater) {
		if logger != nil {
			u.logger = logger
		}
	}
}

// WithInfoPartition changes the partition index that is accepted and
// dropped by Write.
func WithInfoPartition(index int) Option {
	return func(u *Updater) {
		u.infoPartition = index
	}
}

// WithScratch sets the allocator for the page buffer used by the boot
// switch. Returning nil makes Restart and Rollback fail with ErrNoScratch.
func WithScratch(alloc func(n int) []byte) Option {
	return func(u *Updater) {
		if alloc != nil {
			u.scratch = alloc
		}
	}
}

// WithStatusHook registers fn to be called on session transitions with
// the partition concerned.
func WithStatusHook(fn func(status Status, partition int)) Option {
	return func(u *Updater) {
		u.statusHook = fn
	}
}

// New initialises the updater: it decodes the running bank from the strap
// register, sizes the flash from its ID and computes the partition layout.
func New(dev flash.Device, platform Platform, opts ...Option) (*Updater, error) {
	u := &Updater{
		dev:           dev,
		platform:      platform,
		active:        noPartition,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		infoPartition: DefaultInfoPartition,
		scratch:       func(n int) []byte { return make([]byte, n) },
	}
	for _, opt := range opts {
		opt(u)
	}

	mid, err := dev.ReadMID()
	if err != nil {
		return nil, fmt.Errorf("ota: read flash id: %w", err)
	}
	running := RunningAddr(platform.BootStrap())
	u.layout, err = NewLayout(mid.Size(), running)
	if err != nil {
		return nil, err
	}

	u.logger.Info("ota:init",
		slog.Uint64("flash_kb", uint64(u.layout.FlashSize/1024)),
		slog.Uint64("first_invalid_byte", uint64(u.layout.FirstInvalidByte)),
		slog.String("running", formatHex(running)),
		slog.String("partition0", formatHex(u.layout.BankAddr(OtherBank))),
	)
	return u, nil
}

// Layout returns the partition layout computed at init.
func (u *Updater) Layout() Layout {
	return u.layout
}

// Active returns the partition being written and whether a session is in
// progress.
func (u *Updater) Active() (int, bool) {
	return u.active, u.active != noPartition
}

// Write programs buf at offset inside partition. The first write of a
// session erases the whole partition before any data is written; from then
// on the session is bound to that partition until Deinit or Restart.
// Writes to the info partition are accepted and dropped. An empty buf is
// rejected so it cannot open a session on a partition past the flash.
func (u *Updater) Write(partition int, buf []byte, offset uint32) error {
	if partition == u.infoPartition {
		u.logger.Debug("ota:skip-info-partition", slog.Int("partition", partition))
		return nil
	}
	if len(buf) == 0 {
		return ErrInvalidArgument
	}

	start, end, err := u.layout.Resolve(partition, offset, len(buf))
	if err != nil {
		u.logger.Error("ota:write-rejected",
			slog.Int("partition", partition),
			slog.String("err", err.Error()),
		)
		return err
	}

	if u.active == noPartition {
		base, _ := u.layout.PartitionAddr(partition)
		if err := u.erasePartition(uint32(base)); err != nil {
			return err
		}
		u.active = partition
		u.notify(StatusDownloading, partition)
	} else if u.active != partition {
		u.logger.Error("ota:partition-mismatch",
			slog.Int("active", u.active),
			slog.Int("partition", partition),
		)
		return ErrPartitionMismatch
	}

	if err := u.dev.WritePage(start, buf); err != nil {
		return fmt.Errorf("ota: write [%#x, %#x): %w", start, end, err)
	}
	return nil
}

// Read copies len(buf) bytes at offset inside partition into buf. buf is
// zeroed before the flash is read.
func (u *Updater) Read(partition int, offset uint32, buf []byte) error {
	if len(buf) == 0 {
		return ErrInvalidArgument
	}
	start, end, err := u.layout.Resolve(partition, offset, len(buf))
	if err != nil {
		u.logger.Error("ota:read-rejected",
			slog.Int("partition", partition),
			slog.String("err", err.Error()),
		)
		return err
	}
	clear(buf)
	if err := u.dev.ReadPage(start, buf); err != nil {
		return fmt.Errorf("ota: read [%#x, %#x): %w", start, end, err)
	}
	return nil
}

// Deinit cancels the session and erases the partition it was writing.
// It is the cancel path: calling it before Restart discards the new image.
func (u *Updater) Deinit() error {
	if u.active == noPartition {
		return ErrNoSession
	}
	base, _ := u.layout.PartitionAddr(u.active)
	if err := u.erasePartition(uint32(base)); err != nil {
		return err
	}
	partition := u.active
	u.active = noPartition
	u.logger.Info("ota:cancelled", slog.Int("partition", partition))
	u.notify(StatusCancelled, partition)
	return nil
}

// IsDeviceCanReboot reports whether a reboot may happen now. Nothing in
// the updater ever vetoes it.
func (u *Updater) IsDeviceCanReboot() bool {
	return true
}

// erasePartition erases a whole partition in 64KB blocks.
func (u *Updater) erasePartition(base uint32) error {
	u.logger.Info("ota:erase-partition", slog.String("addr", formatHex(base)))
	for addr := base; addr < base+PartitionSize; addr += flash.BlockSize {
		if err := u.dev.EraseBlock64K(addr); err != nil {
			return fmt.Errorf("ota: erase block %#x: %w", addr, err)
		}
	}
	return nil
}

func (u *Updater) notify(s Status, partition int) {
	if u.statusHook != nil {
		u.statusHook(s, partition)
	}
}

// formatHex formats a uint32 as hex string
func formatHex(n uint32) string {
	return fmt.Sprintf("%#08x", n)
}
