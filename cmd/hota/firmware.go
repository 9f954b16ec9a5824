package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/marcinbor85/gohex"
)

const hexLineLength = 16

// loadFirmware reads a raw .bin image, or an Intel HEX file flattened from
// its lowest address with erased (0xFF) gaps.
func loadFirmware(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read firmware: %w", err)
	}
	if !strings.EqualFold(filepath.Ext(path), ".hex") {
		return data, nil
	}
	return flattenHex(bytes.NewReader(data))
}

func flattenHex(r io.Reader) ([]byte, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(r); err != nil {
		return nil, fmt.Errorf("parse hex: %w", err)
	}
	segs := mem.GetDataSegments()
	if len(segs) == 0 {
		return nil, fmt.Errorf("parse hex: no data records")
	}
	lo, hi := segs[0].Address, uint32(0)
	for _, s := range segs {
		lo = min(lo, s.Address)
		hi = max(hi, s.Address+uint32(len(s.Data)))
	}
	return mem.ToBinary(lo, hi-lo, 0xFF), nil
}

// writeHex dumps data as Intel HEX records placed at addr.
func writeHex(w io.Writer, addr uint32, data []byte) error {
	mem := gohex.NewMemory()
	if err := mem.AddBinary(addr, data); err != nil {
		return err
	}
	return mem.DumpIntelHex(w, hexLineLength)
}
