// Package sim is a host stand-in for the B91 board: it keeps the strap
// register, interrupt and branch predictor state, and emulates what the
// boot ROM and the boot stage do on every reset.
package sim

import (
	"bytes"
	"fmt"
	"sync"

	"b91/hota/bootloader"
	"b91/hota/flash"
	"b91/hota/ota"
)

// romBanks are the bank addresses the boot ROM checks for a boot mark, in order.
var romBanks = [...]uint32{0, ota.PartitionsStart}

// Boot records the outcome of one power-on.
type Boot struct {
	Bank       uint32 // bank the boot ROM started
	Entry      uint32 // CPU address execution continued at
	Redirected bool   // the boot stage followed run_addr
}

func (b Boot) String() string {
	s := fmt.Sprintf("bank %#x entry %#x", b.Bank, b.Entry)
	if b.Redirected {
		s += " (redirected)"
	}
	return s
}

// Board implements ota.Platform over a flash device.
type Board struct {
	mu     sync.Mutex
	dev    flash.Device
	strap  uint32
	irqOn  bool
	btbOn  bool
	resets int
	last   Boot

	// RebootErr, when set, is returned by Reboot instead of resetting.
	RebootErr error
}

// New returns a board wired to dev. Call PowerOn before handing it to an
// updater so the strap reflects the booted bank.
func New(dev flash.Device) *Board {
	return &Board{dev: dev, irqOn: true, btbOn: true}
}

// PowerOn emulates a cold start: the first bank carrying the boot mark is
// booted, bank 0 when none is marked, then the boot stage decides whether
// to follow the stored run address.
func (b *Board) PowerOn() (Boot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bank := romBanks[0]
	var mark [len(ota.BootMark)]byte
	for _, addr := range romBanks {
		if err := b.dev.ReadPage(addr+ota.BootMarkOffset, mark[:]); err != nil {
			return Boot{}, fmt.Errorf("sim: read boot mark at %#x: %w", addr, err)
		}
		if bytes.Equal(mark[:], ota.BootMark[:]) {
			bank = addr
			break
		}
	}

	pc := bootloader.FlashStart + bank
	d, err := bootloader.Select(b.dev, pc)
	if err != nil {
		return Boot{}, fmt.Errorf("sim: boot stage: %w", err)
	}
	boot := Boot{Bank: bank, Entry: pc}
	if d.Jump {
		boot.Entry = d.Entry
		boot.Redirected = true
	}

	b.strap = bank / ota.StrapUnit
	b.irqOn = true
	b.btbOn = true
	b.last = boot
	return boot, nil
}

func (b *Board) BootStrap() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.strap
}

func (b *Board) DisableInterrupts() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	prev := b.irqOn
	b.irqOn = false
	if prev {
		return 1
	}
	return 0
}

func (b *Board) RestoreInterrupts(state uint32) {
	b.mu.Lock()
	b.irqOn = state != 0
	b.mu.Unlock()
}

func (b *Board) SetBranchPrediction(enabled bool) {
	b.mu.Lock()
	b.btbOn = enabled
	b.mu.Unlock()
}

// Reboot counts a reset and powers the board on again.
func (b *Board) Reboot() error {
	b.mu.Lock()
	if err := b.RebootErr; err != nil {
		b.mu.Unlock()
		return err
	}
	b.resets++
	b.mu.Unlock()

	_, err := b.PowerOn()
	return err
}

// LastBoot returns the outcome of the most recent power-on.
func (b *Board) LastBoot() Boot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}

// Resets returns how many times Reboot reset the board.
func (b *Board) Resets() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.resets
}

// InterruptsEnabled reports the simulated global interrupt state.
func (b *Board) InterruptsEnabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.irqOn
}

// BranchPrediction reports whether the branch target buffer is enabled.
func (b *Board) BranchPrediction() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.btbOn
}
