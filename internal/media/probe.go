// Package media inspects note attachments and renders their thumbnails.
package media

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/webp"
)

// Info describes a probed attachment payload.
type Info struct {
	MIME      string
	Extension string
	Width     int
	Height    int
}

// IsImage reports whether the payload is an image.
func (i *Info) IsImage() bool {
	return strings.HasPrefix(i.MIME, "image/")
}

// IsAudio reports whether the payload is an audio clip.
func (i *Info) IsAudio() bool {
	return strings.HasPrefix(i.MIME, "audio/")
}

// ContentType returns the sniffed MIME type, falling back to the
// caller's hint when sniffing found nothing more specific.
func (i *Info) ContentType(hint string) string {
	if i.MIME == "application/octet-stream" && hint != "" {
		return hint
	}
	return i.MIME
}

// Probe sniffs the content type of an attachment payload. For images it
// also decodes the pixel bounds; a subtype the decoders do not know
// leaves the bounds at zero instead of failing the probe.
func Probe(data []byte) *Info {
	mtype := mimetype.Detect(data)

	info := &Info{
		MIME:      mtype.String(),
		Extension: mtype.Extension(),
	}

	if info.IsImage() {
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
			info.Width = cfg.Width
			info.Height = cfg.Height
		}
	}

	return info
}
