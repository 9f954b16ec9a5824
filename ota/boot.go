package ota

import (
	"fmt"
	"log/slog"

	"b91/hota/flash"
)

// Restart marks the partition written in this session as the next boot
// target, clears the mark of the running bank and reboots. On hardware it
// does not return on success; with a simulated platform whose Reboot
// returns nil it returns nil after the reset.
//
// Restart and Deinit are mutually exclusive ends of a session.
func (u *Updater) Restart() error {
	if u.active == noPartition {
		return ErrNoSession
	}
	target, _ := u.layout.PartitionAddr(u.active)

	u.logger.Info("ota:restart",
		slog.Int("partition", u.active),
		slog.String("target", formatHex(uint32(target))),
	)
	return u.bootSwitch(uint32(target), StatusRebooting, u.active, nil)
}

// Rollback switches back to the other bank when no update is in progress.
// The other bank's mark page must be erased, otherwise it fails with
// ErrTargetNotErased. Like Restart it does not return on hardware.
func (u *Updater) Rollback() error {
	if u.active != noPartition {
		return ErrSessionActive
	}
	target := u.layout.BankAddr(OtherBank)

	u.logger.Info("ota:rollback", slog.String("target", formatHex(target)))
	return u.bootSwitch(target, StatusRollingBack, 0, func(scratch []byte) error {
		free, err := flash.CheckPageIsFree(u.dev, target, scratch)
		if err != nil {
			return err
		}
		if !free {
			return ErrTargetNotErased
		}
		return nil
	})
}

// bootSwitch runs the mark-set, mark-clear, reboot sequence with interrupts
// and branch prediction disabled. check, when set, runs first inside the
// critical section and aborts the switch on error. status is reported just
// before the reboot.
//
// Power loss between the two mark writes leaves both banks marked and the
// boot ROM picks the lower one. The window is not recoverable here.
func (u *Updater) bootSwitch(target uint32, status Status, partition int, check func(scratch []byte) error) error {
	scratch := u.scratch(scratchSize)
	if len(scratch) < scratchSize {
		u.logger.Error("ota:no-scratch")
		return ErrNoScratch
	}

	irq := u.platform.DisableInterrupts()
	u.platform.SetBranchPrediction(false)
	abort := func(err error) error {
		u.platform.SetBranchPrediction(true)
		u.platform.RestoreInterrupts(irq)
		u.logger.Error("ota:boot-switch-aborted",
			slog.String("target", formatHex(target)),
			slog.String("err", err.Error()),
		)
		return err
	}

	if check != nil {
		if err := check(scratch); err != nil {
			return abort(err)
		}
	}

	running := u.layout.BankAddr(RunningBank)
	if err := flash.WriteBytes(u.dev, target+BootMarkOffset, BootMark[:], scratch); err != nil {
		return abort(fmt.Errorf("ota: set boot mark: %w", err))
	}
	if err := flash.WriteBytes(u.dev, running+BootMarkOffset, noBootMark[:], scratch); err != nil {
		return abort(fmt.Errorf("ota: clear boot mark: %w", err))
	}

	u.notify(status, partition)
	if err := u.platform.Reboot(); err != nil {
		return abort(fmt.Errorf("%w: %v", ErrRebootFailed, err))
	}
	return nil
}
