// Package imageio is the image decoder used by the annotation session.
//
// It loads local files or http(s) URLs (jpg, png, gif and webp), fits large
// images into the display bound and encodes display bitmaps and vision
// model payloads.
package imageio

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/vqa-builder/internal/utils"
)

// Config holds configuration for the loader
type Config struct {
	MaxWidth  int
	MaxHeight int
	Timeout   time.Duration
	// MaxDownloadBytes bounds the body of a remote image
	MaxDownloadBytes int64
}

// DefaultMaxDownloadBytes is the remote image size limit of DefaultConfig
const DefaultMaxDownloadBytes = 50 << 20

// DefaultConfig returns the 800x600 display bound
func DefaultConfig() Config {
	return Config{
		MaxWidth:         800,
		MaxHeight:        600,
		Timeout:          30 * time.Second,
		MaxDownloadBytes: DefaultMaxDownloadBytes,
	}
}

// Picture is a decoded image prepared for display
type Picture struct {
	Source   string
	Original image.Point
	Display  image.Image
	// Scale is display width over original width, 1 when not downscaled
	Scale float64
	// ScaleY is display height over original height. Fit rounds one side,
	// so it can differ slightly from Scale.
	ScaleY float64
}

// DisplaySize returns the size of the display bitmap
func (p *Picture) DisplaySize() image.Point {
	return p.Display.Bounds().Size()
}

// Loader decodes images from files or URLs
type Loader struct {
	config Config
	client *http.Client
}

// New creates a new Loader with default configuration
func New() *Loader {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a new Loader with custom configuration
func NewWithConfig(config Config) *Loader {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &Loader{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

// Open loads source and fits it into the display bound
func (l *Loader) Open(source string) (*Picture, error) {
	img, err := l.Load(source)
	if err != nil {
		return nil, err
	}
	original := img.Bounds().Size()
	if original.X == 0 || original.Y == 0 {
		return nil, fmt.Errorf("image %s has no pixels", source)
	}

	display := Fit(img, l.config.MaxWidth, l.config.MaxHeight)
	size := display.Bounds().Size()
	return &Picture{
		Source:   source,
		Original: original,
		Display:  display,
		Scale:    float64(size.X) / float64(original.X),
		ScaleY:   float64(size.Y) / float64(original.Y),
	}, nil
}

// Load loads an image from either a file path or URL
func (l *Loader) Load(source string) (image.Image, error) {
	if utils.IsRemote(source) {
		return l.LoadFromURL(source)
	}
	return l.LoadFile(source)
}

// LoadFromURL downloads and decodes an image
func (l *Loader) LoadFromURL(imageURL string) (image.Image, error) {
	parsedURL, err := url.Parse(imageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme: %s (only http and https are supported)", parsedURL.Scheme)
	}

	req, err := http.NewRequest(http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "VQA-Builder/1.0")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: HTTP %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("URL does not point to an image (Content-Type: %s)", contentType)
	}

	limit := l.config.MaxDownloadBytes
	if limit <= 0 {
		limit = DefaultMaxDownloadBytes
	}
	if resp.ContentLength > limit {
		return nil, fmt.Errorf("image is larger than %d bytes (Content-Length: %d)", limit, resp.ContentLength)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("image is larger than %d bytes", limit)
	}
	return decodeBytes(data)
}

// LoadFile loads an image from a file path with WebP support
func (l *Loader) LoadFile(path string) (image.Image, error) {
	// Try imaging.Open (registered decoders)
	if img, err := imaging.Open(path); err == nil {
		return img, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image file: %w", err)
	}
	if utils.GetFileExtension(path) == "webp" {
		if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
			return img, nil
		}
	}
	if img, _, err := image.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	return nil, fmt.Errorf("image: unknown format for %s", path)
}

// decodeBytes decodes an image from byte data with WebP support
func decodeBytes(data []byte) (image.Image, error) {
	if img, _, err := image.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	return nil, fmt.Errorf("image: unknown or unsupported format")
}

// Fit downscales img with Lanczos resampling so that it fits maxW x maxH,
// preserving aspect ratio. Images already inside the bound are returned as is.
func Fit(img image.Image, maxW, maxH int) image.Image {
	b := img.Bounds()
	if maxW <= 0 || maxH <= 0 || (b.Dx() <= maxW && b.Dy() <= maxH) {
		return img
	}
	return imaging.Fit(img, maxW, maxH, imaging.Lanczos)
}

// Encode writes img in the given format (png, jpg or webp)
func Encode(w io.Writer, img image.Image, format string, quality int) error {
	switch strings.ToLower(format) {
	case "webp":
		return webp.Encode(w, img, &webp.Options{Quality: float32(quality)})
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestSpeed}
		return enc.Encode(w, img)
	case "jpg", "jpeg":
		return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

// ContentType returns the MIME type for an Encode format
func ContentType(format string) string {
	switch strings.ToLower(format) {
	case "webp":
		return "image/webp"
	case "png":
		return "image/png"
	default:
		return "image/jpeg"
	}
}

// PrepareForModel converts an image to base64 JPEG for vision models,
// shrinking the long side to maxDim when maxDim > 0
func PrepareForModel(img image.Image, maxDim int, quality int) (string, error) {
	if maxDim > 0 {
		b := img.Bounds()
		w, h := b.Dx(), b.Dy()
		if w > maxDim || h > maxDim {
			if w >= h {
				img = imaging.Resize(img, maxDim, 0, imaging.Lanczos)
			} else {
				img = imaging.Resize(img, 0, maxDim, imaging.Lanczos)
			}
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
