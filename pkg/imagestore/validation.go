package imagestore

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/zoff-tech/go-imagepipeline/schema"
)

// ErrInvalidImages wraps every validation failure of an upload request.
var ErrInvalidImages = errors.New("invalid images")

var allowedExtensions = map[string]bool{"jpg": true, "jpeg": true, "png": true, "webp": true}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	err := v.RegisterValidation("image_ext", func(fl validator.FieldLevel) bool {
		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(fl.Field().String())), ".")
		return allowedExtensions[ext]
	})
	if err != nil {
		panic(fmt.Sprintf("register image_ext validation: %v", err))
	}
	return v
}

// ValidateImages checks the count, size, extension and content type of every image.
func ValidateImages(images []schema.Image, maxImages, maxSize int) error {
	if len(images) > maxImages {
		return fmt.Errorf("%w: %d images exceeds the limit of %d", ErrInvalidImages, len(images), maxImages)
	}
	for index, img := range images {
		if err := validate.Struct(img); err != nil {
			return fmt.Errorf("%w: image %d (%s): %v", ErrInvalidImages, index, img.Filename, err)
		}
		if img.Size() > maxSize {
			return fmt.Errorf("%w: image %d (%s) is %d bytes, limit is %d", ErrInvalidImages, index, img.Filename, img.Size(), maxSize)
		}
	}
	return nil
}
