// Package nifti decodes NIfTI-1 volumes (.nii and .nii.gz).
package nifti

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

// Volume is a single-channel 3D image in z-major order:
// Data[z*H*W + y*W + x], Shape = [D, H, W].
type Volume struct {
	Data  []float32
	Shape [3]int
}

const headerSize = 348

// NIfTI-1 datatype codes.
const (
	dtUint8   = 2
	dtInt16   = 4
	dtInt32   = 8
	dtFloat32 = 16
	dtFloat64 = 64
)

type header struct {
	SizeofHdr int32
	_         [36]byte
	Dim       [8]int16
	_         [14]byte
	Datatype  int16
	Bitpix    int16
	_         [34]byte
	VoxOffset float32
	_         [232]byte
	Magic     [4]byte
}

// Load reads and decodes the volume at path. Gzip compression is
// detected from the file content, not the extension.
func Load(path string) (*Volume, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = bufio.NewReader(f)
	magic, err := r.(*bufio.Reader).Peek(2)
	if err != nil {
		return nil, fmt.Errorf("read image %s: %w", path, err)
	}
	if magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("decompress image %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	vol, err := decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode image %s: %w", path, err)
	}
	return vol, nil
}

func decode(r io.Reader) (*Volume, error) {
	raw := make([]byte, headerSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	// sizeof_hdr doubles as the endianness sentinel.
	order := binary.ByteOrder(binary.LittleEndian)
	if order.Uint32(raw[:4]) != headerSize {
		order = binary.BigEndian
		if order.Uint32(raw[:4]) != headerSize {
			return nil, fmt.Errorf("not a NIfTI-1 file (sizeof_hdr=%d)", binary.LittleEndian.Uint32(raw[:4]))
		}
	}

	var hdr header
	if err := binary.Read(bytes.NewReader(raw), order, &hdr); err != nil {
		return nil, fmt.Errorf("parse header: %w", err)
	}
	if hdr.Magic[0] != 'n' || (hdr.Magic[1] != '+' && hdr.Magic[1] != 'i') || hdr.Magic[2] != '1' {
		return nil, fmt.Errorf("bad magic %q", hdr.Magic[:3])
	}
	if hdr.Dim[0] < 3 {
		return nil, fmt.Errorf("expected 3 spatial dimensions, got %d", hdr.Dim[0])
	}

	w, h, d := int(hdr.Dim[1]), int(hdr.Dim[2]), int(hdr.Dim[3])
	if w <= 0 || h <= 0 || d <= 0 {
		return nil, fmt.Errorf("invalid dimensions %dx%dx%d", w, h, d)
	}

	// Skip extensions between the header and the voxel data.
	if off := int64(hdr.VoxOffset); off > headerSize {
		if _, err := io.CopyN(io.Discard, r, off-headerSize); err != nil {
			return nil, fmt.Errorf("skip to voxel data: %w", err)
		}
	}

	n := w * h * d
	buf := make([]byte, n*int(hdr.Bitpix)/8)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("read voxel data: %w", err)
	}

	data, err := toFloat32(buf, n, hdr.Datatype, order)
	if err != nil {
		return nil, err
	}
	return &Volume{Data: data, Shape: [3]int{d, h, w}}, nil
}

func toFloat32(buf []byte, n int, datatype int16, order binary.ByteOrder) ([]float32, error) {
	out := make([]float32, n)
	switch datatype {
	case dtUint8:
		for i := 0; i < n; i++ {
			out[i] = float32(buf[i])
		}
	case dtInt16:
		for i := 0; i < n; i++ {
			out[i] = float32(int16(order.Uint16(buf[2*i:])))
		}
	case dtInt32:
		for i := 0; i < n; i++ {
			out[i] = float32(int32(order.Uint32(buf[4*i:])))
		}
	case dtFloat32:
		for i := 0; i < n; i++ {
			out[i] = math.Float32frombits(order.Uint32(buf[4*i:]))
		}
	case dtFloat64:
		for i := 0; i < n; i++ {
			out[i] = float32(math.Float64frombits(order.Uint64(buf[8*i:])))
		}
	default:
		return nil, fmt.Errorf("unsupported datatype code %d", datatype)
	}
	return out, nil
}
