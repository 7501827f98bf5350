package imagecache

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	// Registered decoders for image.DecodeConfig.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

var errEmptyImage = errors.New("image data is empty")

// validateImage reports whether data starts with a decodable image header.
func validateImage(data []byte) error {
	if len(data) == 0 {
		return errEmptyImage
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("invalid image data: %w", err)
	}
	return nil
}
