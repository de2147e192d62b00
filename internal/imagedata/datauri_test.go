package imagedata

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestEncodeDetectsMIME(t *testing.T) {
	data := pngBytes(t)
	uri := Encode(data)
	assert.True(t, Valid(uri))

	mime, decoded, err := Decode(uri)
	require.NoError(t, err)
	assert.Equal(t, "image/png", mime)
	assert.Equal(t, data, decoded)
}

func TestDecodeRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"plain text":      "hello",
		"not image mime":  "data:text/plain;base64,aGVsbG8=",
		"missing base64":  "data:image/png,aGVsbG8=",
		"bad alphabet":    "data:image/png;base64,@@@@",
		"bad padding":     "data:image/png;base64,aGVsbG8",
		"empty payload":   "data:image/png;base64,",
		"trailing spaces": "data:image/png;base64,aGVs bG8=",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			assert.False(t, Valid(in))
			_, _, err := Decode(in)
			assert.Error(t, err)
		})
	}
}

func TestDecodeEmpty(t *testing.T) {
	_, _, err := Decode("  ")
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestDecodeLooseAcceptsBareBase64(t *testing.T) {
	data := pngBytes(t)
	got, err := DecodeLoose(base64.StdEncoding.EncodeToString(data))
	require.NoError(t, err)
	assert.Equal(t, data, got)

	got, err = DecodeLoose(Encode(data))
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = DecodeLoose("%%%")
	assert.ErrorIs(t, err, ErrMalformed)
}
