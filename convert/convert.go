// Package convert turns raw captured pixels into images.
package convert

import (
	"image"

	"github.com/pkg/errors"
)

// ErrShortBuffer is returned when the pixel data is smaller than the frame
// dimensions require.
var ErrShortBuffer = errors.New("pixel buffer too short")

// Converter decodes one raw frame.
type Converter interface {
	Decode(width, height int, hasAlpha bool, data []byte) (image.Image, error)
}

// UYVYConverter decodes packed 4:2:2 UYVY using BT.709 limited range
// coefficients. With hasAlpha the data is UYVA: a plane of one alpha byte per
// pixel follows the UYVY data.
//
// The destination image is reused between calls; an image returned by Decode
// is only valid until the next call.
type UYVYConverter struct {
	img *image.NRGBA
}

func NewUYVYConverter() *UYVYConverter {
	return &UYVYConverter{}
}

func (c *UYVYConverter) Decode(width, height int, hasAlpha bool, data []byte) (image.Image, error) {
	if width <= 0 || height <= 0 || width%2 != 0 {
		return nil, errors.Errorf("invalid UYVY frame size %dx%d", width, height)
	}
	stride := width * 2
	need := stride * height
	if hasAlpha {
		need += width * height
	}
	if len(data) < need {
		return nil, errors.Wrapf(ErrShortBuffer, "have %d bytes, need %d for %dx%d", len(data), need, width, height)
	}

	if c.img == nil || c.img.Rect.Dx() != width || c.img.Rect.Dy() != height {
		c.img = image.NewNRGBA(image.Rect(0, 0, width, height))
	}
	img := c.img
	alpha := data[stride*height:]

	for y := 0; y < height; y++ {
		src := data[y*stride : (y+1)*stride]
		dst := img.Pix[y*img.Stride : y*img.Stride+width*4]
		for x := 0; x < width; x += 2 {
			u := src[x*2]
			y0 := src[x*2+1]
			v := src[x*2+2]
			y1 := src[x*2+3]

			r, g, b := ycbcr709(y0, u, v)
			dst[x*4], dst[x*4+1], dst[x*4+2] = r, g, b
			r, g, b = ycbcr709(y1, u, v)
			dst[x*4+4], dst[x*4+5], dst[x*4+6] = r, g, b

			if hasAlpha {
				dst[x*4+3] = alpha[y*width+x]
				dst[x*4+7] = alpha[y*width+x+1]
			} else {
				dst[x*4+3] = 0xff
				dst[x*4+7] = 0xff
			}
		}
	}
	return img, nil
}

// ycbcr709 converts one limited range BT.709 sample to RGB.
func ycbcr709(y, cb, cr uint8) (r, g, b uint8) {
	// 16.16 fixed point.
	yy := (int32(y) - 16) * 76309
	pb := int32(cb) - 128
	pr := int32(cr) - 128

	r = clamp((yy + 117489*pr + 1<<15) >> 16)
	g = clamp((yy - 13975*pb - 34925*pr + 1<<15) >> 16)
	b = clamp((yy + 138438*pb + 1<<15) >> 16)
	return r, g, b
}

func clamp(v int32) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
