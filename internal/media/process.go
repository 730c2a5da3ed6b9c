package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/disintegration/imaging"
	"github.com/xela07ax/modbridge/internal/domain"
)

const (
	// PDQ стабильнее всего работает на изображениях около 1000px
	maxHashSide = 1000
	// Компактное превью для карточки модератора
	thumbnailSide = 256

	jpegQuality = 95

	maxFetchBytes = 20 << 20
)

// Normalize готовит изображение к хэшированию: декодирование, приведение
// к JPEG и даунскейл до maxHashSide по большей стороне с сохранением
// пропорций. Невалидные байты отклоняются до похода в движок.
func Normalize(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidMedia, err)
	}

	bounds := img.Bounds()
	if bounds.Dx() > maxHashSide || bounds.Dy() > maxHashSide {
		img = imaging.Fit(img, maxHashSide, maxHashSide, imaging.Lanczos)
	}

	var out bytes.Buffer
	if err := imaging.Encode(&out, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, fmt.Errorf("%w: re-encode: %v", domain.ErrInvalidMedia, err)
	}
	return out.Bytes(), nil
}

// Thumbnail строит уменьшенную копию для эскалации в очередь ревью
func Thumbnail(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidMedia, err)
	}

	thumb := imaging.Fit(img, thumbnailSide, thumbnailSide, imaging.Lanczos)

	var out bytes.Buffer
	if err := imaging.Encode(&out, thumb, imaging.JPEG, imaging.JPEGQuality(80)); err != nil {
		return nil, fmt.Errorf("%w: thumbnail encode: %v", domain.ErrInvalidMedia, err)
	}
	return out.Bytes(), nil
}

// Fetch разыменовывает URL-сабмит. Таймаут отдается контекстом вызывающего:
// на эту загрузку распространяется общий бюджет запроса.
func Fetch(ctx context.Context, httpc *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: bad media url: %v", domain.ErrInvalidInput, err)
	}

	resp, err := httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch media: %v", domain.ErrInvalidMedia, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: media url returned %d", domain.ErrInvalidMedia, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read media: %v", domain.ErrInvalidMedia, err)
	}
	return data, nil
}
