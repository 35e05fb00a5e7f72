// Package media tests for attachment probing and thumbnail generation.
package media

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"
)

// createTestImage encodes a solid 100x60 image in the given format.
func createTestImage(t *testing.T, format string) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 100, 60))
	red := color.RGBA{255, 0, 0, 255}
	for y := 0; y < 60; y++ {
		for x := 0; x < 100; x++ {
			img.Set(x, y, red)
		}
	}

	var buf bytes.Buffer
	var err error
	switch format {
	case "jpeg":
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	case "png":
		err = png.Encode(&buf, img)
	case "gif":
		err = gif.Encode(&buf, img, nil)
	default:
		t.Fatalf("Unknown test image format %q", format)
	}
	if err != nil {
		t.Fatalf("Failed to encode %s: %v", format, err)
	}

	return buf.Bytes()
}

// =====================================================
// Probe Tests
// =====================================================

// TestProbe_png verifies PNG detection and bounds.
func TestProbe_png(t *testing.T) {
	info := Probe(createTestImage(t, "png"))

	if info.MIME != "image/png" {
		t.Errorf("MIME = %q, want image/png", info.MIME)
	}
	if info.Extension != ".png" {
		t.Errorf("Extension = %q, want .png", info.Extension)
	}
	if info.Width != 100 || info.Height != 60 {
		t.Errorf("Bounds = %dx%d, want 100x60", info.Width, info.Height)
	}
	if !info.IsImage() {
		t.Error("IsImage() should be true for a PNG")
	}
}

// TestProbe_jpeg verifies JPEG detection and bounds.
func TestProbe_jpeg(t *testing.T) {
	info := Probe(createTestImage(t, "jpeg"))

	if info.MIME != "image/jpeg" {
		t.Errorf("MIME = %q, want image/jpeg", info.MIME)
	}
	if info.Width != 100 || info.Height != 60 {
		t.Errorf("Bounds = %dx%d, want 100x60", info.Width, info.Height)
	}
}

// TestProbe_gif verifies GIF detection and bounds.
func TestProbe_gif(t *testing.T) {
	info := Probe(createTestImage(t, "gif"))

	if info.MIME != "image/gif" {
		t.Errorf("MIME = %q, want image/gif", info.MIME)
	}
	if info.Width != 100 || info.Height != 60 {
		t.Errorf("Bounds = %dx%d, want 100x60", info.Width, info.Height)
	}
}

// TestProbe_unknownBinary verifies the octet-stream fallback.
func TestProbe_unknownBinary(t *testing.T) {
	data := []byte{0x00, 0x01, 0x02, 0x03, 0xfe, 0xff, 0x10, 0x80}

	info := Probe(data)

	if info.MIME != "application/octet-stream" {
		t.Errorf("MIME = %q, want application/octet-stream", info.MIME)
	}
	if info.IsImage() {
		t.Error("IsImage() should be false for unknown binary")
	}
	if info.Width != 0 || info.Height != 0 {
		t.Errorf("Bounds = %dx%d, want 0x0", info.Width, info.Height)
	}
}

// TestProbe_truncatedImage verifies a recognized but undecodable image
// keeps zero bounds.
func TestProbe_truncatedImage(t *testing.T) {
	data := createTestImage(t, "png")[:16]

	info := Probe(data)

	if info.MIME != "image/png" {
		t.Errorf("MIME = %q, want image/png", info.MIME)
	}
	if info.Width != 0 || info.Height != 0 {
		t.Errorf("Bounds = %dx%d, want 0x0 for truncated data", info.Width, info.Height)
	}
}

// =====================================================
// Info Tests
// =====================================================

// TestInfo_IsAudio verifies audio detection.
func TestInfo_IsAudio(t *testing.T) {
	audio := &Info{MIME: "audio/mpeg"}
	if !audio.IsAudio() {
		t.Error("IsAudio() should be true for audio/mpeg")
	}

	img := &Info{MIME: "image/png"}
	if img.IsAudio() {
		t.Error("IsAudio() should be false for image/png")
	}
}

// TestInfo_ContentType verifies the hint fallback.
func TestInfo_ContentType(t *testing.T) {
	tests := []struct {
		name string
		mime string
		hint string
		want string
	}{
		{"sniffed wins", "image/png", "image/jpeg", "image/png"},
		{"hint fills octet-stream", "application/octet-stream", "audio/mpeg", "audio/mpeg"},
		{"no hint keeps octet-stream", "application/octet-stream", "", "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := &Info{MIME: tt.mime}
			if got := info.ContentType(tt.hint); got != tt.want {
				t.Errorf("ContentType(%q) = %q, want %q", tt.hint, got, tt.want)
			}
		})
	}
}
