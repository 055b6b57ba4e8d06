package nifti

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeNifti serializes a minimal single-file NIfTI-1 blob with float32 voxels.
func writeNifti(t *testing.T, order binary.ByteOrder, dims [3]int16, voxels []float32) []byte {
	t.Helper()
	raw := make([]byte, headerSize)
	order.PutUint32(raw[0:], headerSize)
	order.PutUint16(raw[40:], 3) // dim[0]
	order.PutUint16(raw[42:], uint16(dims[0]))
	order.PutUint16(raw[44:], uint16(dims[1]))
	order.PutUint16(raw[46:], uint16(dims[2]))
	order.PutUint16(raw[70:], dtFloat32)
	order.PutUint16(raw[72:], 32)
	order.PutUint32(raw[108:], math.Float32bits(352))
	copy(raw[344:], "n+1\x00")

	var buf bytes.Buffer
	buf.Write(raw)
	buf.Write([]byte{0, 0, 0, 0}) // extension flag
	for _, v := range voxels {
		var b [4]byte
		order.PutUint32(b[:], math.Float32bits(v))
		buf.Write(b[:])
	}
	return buf.Bytes()
}

func TestLoadPlain(t *testing.T) {
	voxels := []float32{1, 2, 3, 4, 5, 6, 7, 8}
	blob := writeNifti(t, binary.LittleEndian, [3]int16{2, 2, 2}, voxels)

	path := filepath.Join(t.TempDir(), "vol.nii")
	require.NoError(t, os.WriteFile(path, blob, 0o644))

	vol, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, [3]int{2, 2, 2}, vol.Shape)
	assert.Equal(t, voxels, vol.Data)
}

func TestLoadGzip(t *testing.T) {
	voxels := []float32{0.5, 1.5, 2.5, 3.5}
	blob := writeNifti(t, binary.LittleEndian, [3]int16{2, 2, 1}, voxels)

	var gzBuf bytes.Buffer
	gz := gzip.NewWriter(&gzBuf)
	_, err := gz.Write(blob)
	require.NoError(t, err)
	require.NoError(t, gz.Close())

	path := filepath.Join(t.TempDir(), "vol.nii.gz")
	require.NoError(t, os.WriteFile(path, gzBuf.Bytes(), 0o644))

	vol, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, [3]int{1, 2, 2}, vol.Shape)
	assert.Equal(t, voxels, vol.Data)
}

func TestLoadBigEndian(t *testing.T) {
	voxels := []float32{9, 8, 7, 6}
	blob := writeNifti(t, binary.BigEndian, [3]int16{2, 2, 1}, voxels)

	path := filepath.Join(t.TempDir(), "vol.nii")
	require.NoError(t, os.WriteFile(path, blob, 0o644))

	vol, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, voxels, vol.Data)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.nii"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing.nii")
}

func TestLoadBadMagic(t *testing.T) {
	blob := writeNifti(t, binary.LittleEndian, [3]int16{1, 1, 1}, []float32{0})
	copy(blob[344:], "xyz\x00")

	path := filepath.Join(t.TempDir(), "bad.nii")
	require.NoError(t, os.WriteFile(path, blob, 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad magic")
}

func TestLoadIntVoxels(t *testing.T) {
	order := binary.LittleEndian
	raw := make([]byte, headerSize)
	order.PutUint32(raw[0:], headerSize)
	order.PutUint16(raw[40:], 3)
	order.PutUint16(raw[42:], 2)
	order.PutUint16(raw[44:], 1)
	order.PutUint16(raw[46:], 1)
	order.PutUint16(raw[70:], dtInt16)
	order.PutUint16(raw[72:], 16)
	order.PutUint32(raw[108:], math.Float32bits(352))
	copy(raw[344:], "n+1\x00")

	var buf bytes.Buffer
	buf.Write(raw)
	buf.Write([]byte{0, 0, 0, 0})
	for _, v := range []int16{-7, 300} {
		var b [2]byte
		order.PutUint16(b[:], uint16(v))
		buf.Write(b[:])
	}

	path := filepath.Join(t.TempDir(), "int.nii")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	vol, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []float32{-7, 300}, vol.Data)
}
