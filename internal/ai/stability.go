package ai

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/image/draw"
)

// Stability defaults.
const (
	DefaultStabilityURL    = "https://api.stability.ai/v1"
	DefaultStabilityEngine = "stable-diffusion-xl-1024-v1-0"
	DefaultImageStrength   = 0.4
	DefaultImageGuidance   = 7
	// The SDXL engines accept 1024x1024 among a few fixed sizes.
	DefaultCanvasSize = 1024
)

// Stability is a client for the image-to-image endpoint.
type Stability struct {
	APIKey   string
	BaseURL  string
	Engine   string
	Strength float64 // how much of the photo survives, 0-1
	Guidance int     // cfg_scale
	// Width and Height are the size the engine accepts. The photo is
	// letterboxed into it and the result cropped back to the photo's size.
	Width  int
	Height int
	HTTP   *http.Client
}

// NewStability returns a client with default engine and tuning.
func NewStability(apiKey string) *Stability {
	return &Stability{
		APIKey:   apiKey,
		BaseURL:  DefaultStabilityURL,
		Engine:   DefaultStabilityEngine,
		Strength: DefaultImageStrength,
		Guidance: DefaultImageGuidance,
		Width:    DefaultCanvasSize,
		Height:   DefaultCanvasSize,
		HTTP:     &http.Client{Timeout: DefaultTimeout},
	}
}

// Transform redraws photo according to prompt and returns a PNG the size of
// photo.
func (s *Stability) Transform(ctx context.Context, photo []byte, prompt string) ([]byte, error) {
	if len(photo) == 0 {
		return nil, fmt.Errorf("ai: no image to transform")
	}
	src, _, err := image.Decode(bytes.NewReader(photo))
	if err != nil {
		return nil, fmt.Errorf("ai: decoding photo: %w", err)
	}
	canvas := image.Pt(s.Width, s.Height)
	if canvas.X <= 0 || canvas.Y <= 0 {
		canvas = image.Pt(DefaultCanvasSize, DefaultCanvasSize)
	}
	boxed, inner := letterbox(src, canvas)
	var initImage bytes.Buffer
	if err := png.Encode(&initImage, boxed); err != nil {
		return nil, fmt.Errorf("ai: encoding photo: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("init_image", "photo.png")
	if err != nil {
		return nil, fmt.Errorf("ai: building image form: %w", err)
	}
	if _, err := fw.Write(initImage.Bytes()); err != nil {
		return nil, fmt.Errorf("ai: building image form: %w", err)
	}
	fields := [][2]string{
		{"init_image_mode", "IMAGE_STRENGTH"},
		{"image_strength", strconv.FormatFloat(s.Strength, 'f', -1, 64)},
		{"cfg_scale", strconv.Itoa(s.Guidance)},
		{"text_prompts[0][text]", prompt},
		{"samples", "1"},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, fmt.Errorf("ai: building image form: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("ai: building image form: %w", err)
	}

	base := s.BaseURL
	if base == "" {
		base = DefaultStabilityURL
	}
	url := fmt.Sprintf("%s/generation/%s/image-to-image", strings.TrimRight(base, "/"), s.Engine)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, fmt.Errorf("ai: creating image request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "image/png")
	req.Header.Set("Authorization", "Bearer "+s.APIKey)

	client := s.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	res, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ai: stability request: %w", err)
	}
	defer res.Body.Close()
	if err := checkResponse("stability", res); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("ai: reading stability response: %w", err)
	}
	rendered, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("ai: decoding stability image: %w", err)
	}

	var out bytes.Buffer
	if err := png.Encode(&out, unletterbox(rendered, inner, canvas, src.Bounds().Size())); err != nil {
		return nil, fmt.Errorf("ai: encoding result: %w", err)
	}
	return out.Bytes(), nil
}

// letterbox scales src to fit canvas without stretching, centred on black.
// It returns the canvas and the rectangle the photo occupies.
func letterbox(src image.Image, canvas image.Point) (*image.RGBA, image.Rectangle) {
	sb := src.Bounds()
	scale := math.Min(float64(canvas.X)/float64(sb.Dx()), float64(canvas.Y)/float64(sb.Dy()))
	w := int(math.Round(float64(sb.Dx()) * scale))
	h := int(math.Round(float64(sb.Dy()) * scale))
	x0, y0 := (canvas.X-w)/2, (canvas.Y-h)/2
	inner := image.Rect(x0, y0, x0+w, y0+h)

	dst := image.NewRGBA(image.Rectangle{Max: canvas})
	draw.Draw(dst, dst.Bounds(), image.Black, image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, inner, src, sb, draw.Src, nil)
	return dst, inner
}

// unletterbox crops the photo area out of a rendering of the letterboxed
// canvas and scales it back to size. The rendering may come back at a
// different resolution than the canvas.
func unletterbox(rendered image.Image, inner image.Rectangle, canvas, size image.Point) *image.RGBA {
	rb := rendered.Bounds()
	sx := float64(rb.Dx()) / float64(canvas.X)
	sy := float64(rb.Dy()) / float64(canvas.Y)
	crop := image.Rect(
		rb.Min.X+int(math.Round(float64(inner.Min.X)*sx)),
		rb.Min.Y+int(math.Round(float64(inner.Min.Y)*sy)),
		rb.Min.X+int(math.Round(float64(inner.Max.X)*sx)),
		rb.Min.Y+int(math.Round(float64(inner.Max.Y)*sy)),
	)

	dst := image.NewRGBA(image.Rectangle{Max: size})
	draw.CatmullRom.Scale(dst, dst.Bounds(), rendered, crop, draw.Src, nil)
	return dst
}
