package schema

import (
	"path/filepath"
	"strings"
)

// Image is one uploaded product image as received from the client.
type Image struct {
	Filename    string `json:"filename" validate:"required,image_ext"`
	ContentType string `json:"content_type" validate:"required,oneof=image/jpeg image/png image/webp"`
	Data        []byte `json:"-" validate:"required"`
}

// Size returns the payload length in bytes.
func (i Image) Size() int {
	return len(i.Data)
}

// Extension returns the lower-cased file extension without the dot, or "jpg".
func (i Image) Extension() string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(i.Filename)), ".")
	if ext == "" {
		return "jpg"
	}
	return ext
}

// Clone returns a deep copy of the image.
func (i Image) Clone() Image {
	data := make([]byte, len(i.Data))
	copy(data, i.Data)
	i.Data = data
	return i
}

// CloneImages deep-copies a slice of images.
func CloneImages(images []Image) []Image {
	if images == nil {
		return nil
	}
	out := make([]Image, len(images))
	for idx, img := range images {
		out[idx] = img.Clone()
	}
	return out
}
