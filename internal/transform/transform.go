// Package transform implements the preprocessing pipeline applied to
// each volume before inference.
package transform

import (
	"fmt"
	"image"

	"github.com/nfnt/resize"

	"github.com/graymatterlab/voxclass/internal/nifti"
)

// Transform rewrites a volume in the preprocessing pipeline. Implementations
// must not retain the input.
type Transform interface {
	Apply(vol *nifti.Volume) (*nifti.Volume, error)
}

// Compose chains transforms in order.
type Compose []Transform

func (c Compose) Apply(vol *nifti.Volume) (*nifti.Volume, error) {
	var err error
	for _, t := range c {
		if vol, err = t.Apply(vol); err != nil {
			return nil, err
		}
	}
	return vol, nil
}

// ScaleIntensity min-max scales voxel values to [0, 1]. A constant
// volume maps to all zeros.
type ScaleIntensity struct{}

func (ScaleIntensity) Apply(vol *nifti.Volume) (*nifti.Volume, error) {
	if len(vol.Data) == 0 {
		return nil, fmt.Errorf("scale intensity: empty volume")
	}
	lo, hi := vol.Data[0], vol.Data[0]
	for _, v := range vol.Data {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	out := make([]float32, len(vol.Data))
	if span := hi - lo; span > 0 {
		inv := 1 / span
		for i, v := range vol.Data {
			out[i] = (v - lo) * inv
		}
	}
	return &nifti.Volume{Data: out, Shape: vol.Shape}, nil
}

// Resize resamples a volume to a fixed spatial size. Axial slices are
// resampled with Lanczos3; the depth axis is linearly interpolated.
// Expects intensities already in [0, 1].
type Resize struct {
	Depth  int
	Height int
	Width  int
}

func (r Resize) Apply(vol *nifti.Volume) (*nifti.Volume, error) {
	if r.Depth <= 0 || r.Height <= 0 || r.Width <= 0 {
		return nil, fmt.Errorf("resize: invalid target %dx%dx%d", r.Depth, r.Height, r.Width)
	}
	d, h, w := vol.Shape[0], vol.Shape[1], vol.Shape[2]

	// In-plane pass over the original depth.
	planes := make([][]float32, d)
	for z := 0; z < d; z++ {
		planes[z] = resizePlane(vol.Data[z*h*w:(z+1)*h*w], h, w, r.Height, r.Width)
	}

	// Depth pass.
	planeSize := r.Height * r.Width
	out := make([]float32, r.Depth*planeSize)
	for z := 0; z < r.Depth; z++ {
		src := sourceDepth(z, r.Depth, d)
		z0 := int(src)
		frac := float32(src - float64(z0))
		z1 := z0 + 1
		if z1 >= d {
			z1 = d - 1
		}
		dst := out[z*planeSize : (z+1)*planeSize]
		if frac == 0 || z0 == z1 {
			copy(dst, planes[z0])
			continue
		}
		a, b := planes[z0], planes[z1]
		for i := range dst {
			dst[i] = a[i]*(1-frac) + b[i]*frac
		}
	}
	return &nifti.Volume{Data: out, Shape: [3]int{r.Depth, r.Height, r.Width}}, nil
}

func sourceDepth(z, outD, inD int) float64 {
	if outD <= 1 || inD <= 1 {
		return 0
	}
	return float64(z) * float64(inD-1) / float64(outD-1)
}

func resizePlane(plane []float32, h, w, outH, outW int) []float32 {
	if h == outH && w == outW {
		dup := make([]float32, len(plane))
		copy(dup, plane)
		return dup
	}
	img := image.NewGray16(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := plane[y*w+x]
			if v < 0 {
				v = 0
			} else if v > 1 {
				v = 1
			}
			off := y*img.Stride + x*2
			u := uint16(v*65535 + 0.5)
			img.Pix[off] = byte(u >> 8)
			img.Pix[off+1] = byte(u)
		}
	}

	resized := resize.Resize(uint(outW), uint(outH), img, resize.Lanczos3)

	out := make([]float32, outH*outW)
	for y := 0; y < outH; y++ {
		for x := 0; x < outW; x++ {
			g, _, _, _ := resized.At(x, y).RGBA()
			out[y*outW+x] = float32(g) / 65535.0
		}
	}
	return out
}
