package imagestore

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zoff-tech/go-imagepipeline/schema"
)

func TestValidateImages(t *testing.T) {
	valid := schema.Image{Filename: "a.webp", ContentType: "image/webp", Data: []byte{1}}

	tests := []struct {
		name    string
		images  []schema.Image
		wantErr bool
	}{
		{"no images", nil, false},
		{"valid images", []schema.Image{valid, {Filename: "b.JPG", ContentType: "image/jpeg", Data: []byte{1}}}, false},
		{"too many images", testImages(11), true},
		{"unsupported extension", []schema.Image{{Filename: "a.gif", ContentType: "image/png", Data: []byte{1}}}, true},
		{"missing extension", []schema.Image{{Filename: "photo", ContentType: "image/png", Data: []byte{1}}}, true},
		{"unsupported content type", []schema.Image{{Filename: "a.png", ContentType: "image/gif", Data: []byte{1}}}, true},
		{"empty payload", []schema.Image{{Filename: "a.png", ContentType: "image/png"}}, true},
		{"too large", []schema.Image{{Filename: "a.png", ContentType: "image/png", Data: bytes.Repeat([]byte{1}, 11)}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateImages(tt.images, 10, 10)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidImages)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
