package convert

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uyvy(width, height int, u, y, v byte) []byte {
	data := make([]byte, width*height*2)
	for i := 0; i < len(data); i += 4 {
		data[i], data[i+1], data[i+2], data[i+3] = u, y, v, y
	}
	return data
}

func TestDecodeColors(t *testing.T) {
	tests := []struct {
		name    string
		u, y, v byte
		r, g, b uint8
	}{
		{"white", 128, 235, 128, 255, 255, 255},
		{"black", 128, 16, 128, 0, 0, 0},
		{"red", 102, 63, 240, 255, 0, 0},
		{"blue", 240, 32, 118, 0, 0, 255},
	}
	c := NewUYVYConverter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := c.Decode(4, 2, false, uyvy(4, 2, tt.u, tt.y, tt.v))
			require.NoError(t, err)
			px := img.(*image.NRGBA).NRGBAAt(3, 1)
			assert.InDelta(t, tt.r, px.R, 2)
			assert.InDelta(t, tt.g, px.G, 2)
			assert.InDelta(t, tt.b, px.B, 2)
			assert.Equal(t, uint8(0xff), px.A)
		})
	}
}

func TestDecodeAlphaPlane(t *testing.T) {
	data := append(uyvy(2, 1, 128, 235, 128), 0x10, 0x80)
	img, err := NewUYVYConverter().Decode(2, 1, true, data)
	require.NoError(t, err)
	n := img.(*image.NRGBA)
	assert.Equal(t, uint8(0x10), n.NRGBAAt(0, 0).A)
	assert.Equal(t, uint8(0x80), n.NRGBAAt(1, 0).A)
}

func TestDecodeShortBuffer(t *testing.T) {
	c := NewUYVYConverter()
	_, err := c.Decode(4, 2, false, make([]byte, 15))
	assert.ErrorIs(t, err, ErrShortBuffer)

	_, err = c.Decode(4, 2, true, make([]byte, 16))
	assert.ErrorIs(t, err, ErrShortBuffer)

	_, err = c.Decode(3, 2, false, make([]byte, 64))
	assert.Error(t, err)
}

func TestDecodeReusesImage(t *testing.T) {
	c := NewUYVYConverter()
	a, err := c.Decode(4, 2, false, uyvy(4, 2, 128, 16, 128))
	require.NoError(t, err)
	b, err := c.Decode(4, 2, false, uyvy(4, 2, 128, 235, 128))
	require.NoError(t, err)
	assert.Same(t, a, b)

	d, err := c.Decode(8, 2, false, uyvy(8, 2, 128, 235, 128))
	require.NoError(t, err)
	assert.Equal(t, 8, d.Bounds().Dx())
}
