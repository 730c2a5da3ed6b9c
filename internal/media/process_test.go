package media

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/modbridge/internal/domain"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x += 10 {
		for y := 0; y < h; y += 10 {
			img.Set(x, y, color.RGBA{200, 30, 30, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestNormalizeDownscalesLargeImages(t *testing.T) {
	data := encodePNG(t, 2400, 1200)

	out, err := Normalize(data)
	require.NoError(t, err)

	decoded, err := imaging.Decode(bytes.NewReader(out))
	require.NoError(t, err)

	// Большая сторона ужата до 1000, пропорции сохранены
	assert.Equal(t, 1000, decoded.Bounds().Dx())
	assert.Equal(t, 500, decoded.Bounds().Dy())
}

func TestNormalizeKeepsSmallImages(t *testing.T) {
	data := encodePNG(t, 320, 200)

	out, err := Normalize(data)
	require.NoError(t, err)

	decoded, err := imaging.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 320, decoded.Bounds().Dx())
	assert.Equal(t, 200, decoded.Bounds().Dy())
}

func TestNormalizeRejectsGarbage(t *testing.T) {
	_, err := Normalize([]byte("this is not an image at all"))
	require.ErrorIs(t, err, domain.ErrInvalidMedia)
}

func TestThumbnailFits(t *testing.T) {
	data := encodePNG(t, 1024, 768)

	thumb, err := Thumbnail(data)
	require.NoError(t, err)

	decoded, err := imaging.Decode(bytes.NewReader(thumb))
	require.NoError(t, err)
	assert.LessOrEqual(t, decoded.Bounds().Dx(), 256)
	assert.LessOrEqual(t, decoded.Bounds().Dy(), 256)
}

func TestFetch(t *testing.T) {
	payload := encodePNG(t, 16, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	data, err := Fetch(context.Background(), srv.Client(), srv.URL+"/img.png")
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestFetchRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := Fetch(context.Background(), srv.Client(), srv.URL+"/missing.png")
	require.ErrorIs(t, err, domain.ErrInvalidMedia)
}
