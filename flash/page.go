package flash

import "encoding/binary"

// CheckPageIsFree reads the page containing addr into scratch and reports
// whether every 32-bit word of it is erased.
func CheckPageIsFree(dev Device, addr uint32, scratch []byte) (bool, error) {
	if len(scratch) < PageSize {
		return false, ErrScratchTooSmall
	}
	page := scratch[:PageSize]
	if err := dev.ReadPage(PageBase(addr), page); err != nil {
		return false, err
	}
	for i := 0; i < PageSize; i += 4 {
		if binary.LittleEndian.Uint32(page[i:]) != ErasedWord {
			return false, nil
		}
	}
	return true, nil
}

// CopyPage copies one page from src to dst, erasing dst first unless it is
// already free.
func CopyPage(dev Device, dst, src uint32, scratch []byte) error {
	free, err := CheckPageIsFree(dev, dst, scratch)
	if err != nil {
		return err
	}
	if !free {
		if err := dev.ErasePage(dst); err != nil {
			return err
		}
	}
	page := scratch[:PageSize]
	if err := dev.ReadPage(PageBase(src), page); err != nil {
		return err
	}
	return dev.WritePage(PageBase(dst), page)
}

// CopyRegion copies size bytes page by page from src to dst.
// size is rounded up to a whole page.
func CopyRegion(dev Device, dst, src, size uint32, scratch []byte) error {
	for off := uint32(0); off < size; off += PageSize {
		if err := CopyPage(dev, dst+off, src+off, scratch); err != nil {
			return err
		}
	}
	return nil
}

// WriteBytes patches data into the page containing addr with a
// read-modify-erase-write cycle. The page is erased even when it already
// holds data.
func WriteBytes(dev Device, addr uint32, data []byte, scratch []byte) error {
	if len(scratch) < PageSize {
		return ErrScratchTooSmall
	}
	off := addr % PageSize
	if int(off)+len(data) > PageSize {
		return ErrCrossesPage
	}
	base := PageBase(addr)
	page := scratch[:PageSize]
	if err := dev.ReadPage(base, page); err != nil {
		return err
	}
	copy(page[off:], data)
	if err := dev.ErasePage(base); err != nil {
		return err
	}
	return dev.WritePage(base, page)
}
