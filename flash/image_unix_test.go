//go:build linux || darwin

package flash

import (
	"path/filepath"
	"testing"
)

func TestImagePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flash.img")

	img, err := CreateImage(path, 4*BlockSize)
	if err != nil {
		t.Fatal(err)
	}
	if err := img.WritePage(0x1234, []byte("b91")); err != nil {
		t.Fatal(err)
	}
	if err := img.Close(); err != nil {
		t.Fatal(err)
	}

	img, err = OpenImage(path)
	if err != nil {
		t.Fatal(err)
	}
	defer img.Close()
	buf := make([]byte, 3)
	if err := img.ReadPage(0x1234, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "b91" {
		t.Errorf("reopened image = %q, want b91", buf)
	}
	if b := img.Bytes(0, 1)[0]; b != 0xFF {
		t.Errorf("untouched byte = %#x, want 0xff", b)
	}
}

func TestCreateImageRejectsOddSize(t *testing.T) {
	if _, err := CreateImage(filepath.Join(t.TempDir(), "x.img"), 3*BlockSize); err == nil {
		t.Error("expected error for non power of two size")
	}
}
