package srtm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// Void is the sample value SRTM uses for missing data.
const Void = -32768

var ErrBadHGT = errors.New("not an SRTM hgt file")

// HGTInfo describes an extracted .hgt file.
type HGTInfo struct {
	Size    int // Samples per side, 1201 (3") or 3601 (1").
	Voids   int
	Min     int16
	Max     int16
	Samples int
}

// sizeForBytes returns the samples per side for a file of n bytes.
func sizeForBytes(n int64) (int, bool) {
	switch n {
	case 2 * 1201 * 1201:
		return 1201, true
	case 2 * 3601 * 3601:
		return 3601, true
	}
	return 0, false
}

// StatHGT validates the file at path and returns its summary.
func StatHGT(path string) (*HGTInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size, ok := sizeForBytes(fi.Size())
	if !ok {
		return nil, fmt.Errorf("%w: %s has %d bytes", ErrBadHGT, path, fi.Size())
	}
	return ReadHGT(f, size)
}

// ReadHGT scans size*size big-endian int16 samples from r.
func ReadHGT(r io.Reader, size int) (*HGTInfo, error) {
	info := &HGTInfo{Size: size}
	row := make([]int16, size)
	for range size {
		if err := binary.Read(r, binary.BigEndian, row); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadHGT, err)
		}
		for _, v := range row {
			if v == Void {
				info.Voids++
				continue
			}
			if info.Samples == 0 || v < info.Min {
				info.Min = v
			}
			if info.Samples == 0 || v > info.Max {
				info.Max = v
			}
			info.Samples++
		}
	}
	return info, nil
}

// AllVoid reports whether the tile carries no elevation at all.
func (i *HGTInfo) AllVoid() bool {
	return i.Samples == 0
}
