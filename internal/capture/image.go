package capture

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
)

// Accepted media types for user-supplied files. Anything else is rejected
// before it reaches the identification stage.
var allowedMIMETypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
}

const jpegQuality = 90

// RawImage is the single in-memory representation for a card image, whether
// it came from a file or a camera frame. Immutable once created.
type RawImage struct {
	Payload  []byte // raw encoded image bytes
	Preview  string // base64 data URI for display
	MIMEType string
	Filename string
}

// FromUserFile normalizes a user-selected file into a RawImage. The declared
// media type must be PNG, JPEG or WEBP. No size limit is enforced here; any
// advisory limit is the caller's copy, not a contract.
func FromUserFile(data []byte, mimeType, filename string) (RawImage, error) {
	if !allowedMIMETypes[mimeType] {
		return RawImage{}, fmt.Errorf("unsupported media type %q (accepted: png, jpeg, webp)", mimeType)
	}
	return RawImage{
		Payload:  data,
		Preview:  dataURI(data, mimeType),
		MIMEType: mimeType,
		Filename: filename,
	}, nil
}

// encodeFrame renders a decoded video frame to JPEG at its native resolution
// and wraps it as a RawImage. Same frame in, equivalent bytes out.
func encodeFrame(frame image.Image, filename string) (RawImage, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return RawImage{}, fmt.Errorf("failed to encode frame: %w", err)
	}
	data := buf.Bytes()
	return RawImage{
		Payload:  data,
		Preview:  dataURI(data, "image/jpeg"),
		MIMEType: "image/jpeg",
		Filename: filename,
	}, nil
}

func dataURI(data []byte, mimeType string) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
