package sim

import (
	"bytes"
	"errors"
	"testing"

	"b91/hota/bootloader"
	"b91/hota/flash"
	"b91/hota/ota"
)

const flashSize = 2 * 1024 * 1024

// newBoard returns a powered-on board whose bank A carries the boot mark.
func newBoard(t *testing.T) (*flash.Memory, *Board) {
	t.Helper()
	mem := flash.NewMemory(flashSize)
	if err := flash.WriteBytes(mem, ota.BootMarkOffset, ota.BootMark[:], make([]byte, flash.PageSize)); err != nil {
		t.Fatal(err)
	}
	b := New(mem)
	if _, err := b.PowerOn(); err != nil {
		t.Fatal(err)
	}
	return mem, b
}

func image(n int) []byte {
	img := make([]byte, n)
	for i := range img {
		img[i] = byte(i ^ 0x5A)
	}
	return img
}

func TestPowerOnDefaultsToBankA(t *testing.T) {
	b := New(flash.NewMemory(flashSize))
	boot, err := b.PowerOn()
	if err != nil {
		t.Fatal(err)
	}
	if boot.Bank != 0 || boot.Entry != bootloader.FlashStart || boot.Redirected {
		t.Errorf("boot = %v", boot)
	}
	if b.BootStrap() != 0 {
		t.Errorf("strap = %d", b.BootStrap())
	}
}

func TestRestartBootsNewBank(t *testing.T) {
	mem, b := newBoard(t)
	u, err := ota.New(mem, b)
	if err != nil {
		t.Fatal(err)
	}

	img := image(3 * flash.PageSize)
	s := u.NewStream(0, 0)
	if _, err := s.Write(img); err != nil {
		t.Fatal(err)
	}
	if err := u.Restart(); err != nil {
		t.Fatalf("Restart: %v", err)
	}

	if b.Resets() != 1 {
		t.Errorf("resets = %d, want 1", b.Resets())
	}
	if got := b.LastBoot().Bank; got != ota.PartitionsStart {
		t.Errorf("booted bank %#x, want %#x", got, ota.PartitionsStart)
	}
	if got := b.BootStrap(); got != ota.PartitionsStart/ota.StrapUnit {
		t.Errorf("strap = %d", got)
	}

	// The mark page was rewritten; the rest of the image survives.
	got := mem.Bytes(ota.PartitionsStart+flash.PageSize, 2*flash.PageSize)
	if !bytes.Equal(got, img[flash.PageSize:]) {
		t.Error("image corrupted by the boot switch")
	}

	// The new firmware sees partition 0 as bank A.
	u2, err := ota.New(mem, b)
	if err != nil {
		t.Fatal(err)
	}
	if got := u2.Layout().BankAddr(ota.OtherBank); got != 0 {
		t.Errorf("other bank after switch = %#x, want 0", got)
	}
}

func TestRollback(t *testing.T) {
	t.Run("erased target", func(t *testing.T) {
		mem, b := newBoard(t)
		u, err := ota.New(mem, b)
		if err != nil {
			t.Fatal(err)
		}
		if err := u.Rollback(); err != nil {
			t.Fatalf("Rollback: %v", err)
		}
		if got := b.LastBoot().Bank; got != ota.PartitionsStart {
			t.Errorf("booted bank %#x after rollback", got)
		}
	})

	t.Run("programmed target", func(t *testing.T) {
		mem, b := newBoard(t)
		if err := mem.WritePage(ota.PartitionsStart, []byte{0x00}); err != nil {
			t.Fatal(err)
		}
		u, err := ota.New(mem, b)
		if err != nil {
			t.Fatal(err)
		}
		if err := u.Rollback(); !errors.Is(err, ota.ErrTargetNotErased) {
			t.Fatalf("Rollback = %v, want ErrTargetNotErased", err)
		}
		if b.Resets() != 0 {
			t.Error("board reset after a refused rollback")
		}
		if !b.InterruptsEnabled() || !b.BranchPrediction() {
			t.Error("interrupt or branch prediction state not restored")
		}
	})
}

func TestPowerLossBetweenMarkWrites(t *testing.T) {
	mem, b := newBoard(t)
	u, err := ota.New(mem, b)
	if err != nil {
		t.Fatal(err)
	}
	if err := u.Write(0, image(flash.PageSize), 0); err != nil {
		t.Fatal(err)
	}

	// Setting the new mark costs one erase and one program; the clear of
	// the old mark then fails.
	mem.FailAfter(2)
	err = u.Restart()
	if !errors.Is(err, flash.ErrPowerLoss) {
		t.Fatalf("Restart = %v, want ErrPowerLoss", err)
	}
	mem.FailAfter(-1)

	for _, bank := range romBanks {
		if got := mem.Bytes(bank+ota.BootMarkOffset, 4); !bytes.Equal(got, ota.BootMark[:]) {
			t.Errorf("bank %#x mark = %q", bank, got)
		}
	}

	boot, err := b.PowerOn()
	if err != nil {
		t.Fatal(err)
	}
	if boot.Bank != 0 {
		t.Errorf("ROM booted %#x with both banks marked, want the lower one", boot.Bank)
	}
}

func TestRunAddrRedirect(t *testing.T) {
	mem, b := newBoard(t)
	if err := bootloader.SaveRunAddress(mem, ota.PartitionsStart); err != nil {
		t.Fatal(err)
	}
	boot, err := b.PowerOn()
	if err != nil {
		t.Fatal(err)
	}
	want := Boot{Bank: 0, Entry: bootloader.FlashStart + ota.PartitionsStart, Redirected: true}
	if boot != want {
		t.Errorf("boot = %v, want %v", boot, want)
	}

	if err := bootloader.ClearRunAddress(mem); err != nil {
		t.Fatal(err)
	}
	if boot, _ := b.PowerOn(); boot.Redirected {
		t.Errorf("still redirected after clear: %v", boot)
	}
}

func TestRebootError(t *testing.T) {
	mem, b := newBoard(t)
	b.RebootErr = errors.New("watchdog disabled")
	u, err := ota.New(mem, b)
	if err != nil {
		t.Fatal(err)
	}
	if err := u.Write(0, image(16), 0); err != nil {
		t.Fatal(err)
	}
	if err := u.Restart(); !errors.Is(err, ota.ErrRebootFailed) {
		t.Fatalf("Restart = %v, want ErrRebootFailed", err)
	}
	if b.Resets() != 0 || !b.InterruptsEnabled() {
		t.Errorf("resets=%d irq=%v", b.Resets(), b.InterruptsEnabled())
	}
}
