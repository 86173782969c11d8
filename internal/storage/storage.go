// Package storage validates and stores bank transfer slip images.
package storage

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"net/http"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xenking/course-checkout/internal/domain/apperr"
	"github.com/xenking/course-checkout/internal/domain/payment"
)

// Limits bounds acceptable slip images.
type Limits struct {
	AllowedTypes []string `default:"image/jpeg,image/png"`
	MaxBytes     int64    `default:"5242880"`
	MinSide      int      `default:"200"`
	MaxSide      int      `default:"10000"`
}

// DefaultLimits accepts JPEG and PNG up to 5 MiB with sides of 200 to 10000 px.
func DefaultLimits() Limits {
	return Limits{
		AllowedTypes: []string{"image/jpeg", "image/png"},
		MaxBytes:     5 << 20,
		MinSide:      200,
		MaxSide:      10000,
	}
}

// Validate checks the slip content against l. The declared content type is
// ignored in favour of the sniffed one.
func Validate(l Limits, s payment.Slip) error {
	if len(s.Data) == 0 {
		return apperr.InvalidField("slip", "file is required")
	}
	if int64(len(s.Data)) > l.MaxBytes {
		return apperr.InvalidField("slip", fmt.Sprintf("file exceeds %d bytes", l.MaxBytes))
	}

	ct := http.DetectContentType(s.Data)
	if !slices.Contains(l.AllowedTypes, ct) {
		return apperr.InvalidField("slip", "unsupported file type "+ct)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(s.Data))
	if err != nil {
		return apperr.InvalidField("slip", "unreadable image")
	}
	for _, side := range []int{cfg.Width, cfg.Height} {
		if side < l.MinSide || side > l.MaxSide {
			return apperr.InvalidField("slip",
				fmt.Sprintf("image sides must be between %d and %d pixels", l.MinSide, l.MaxSide))
		}
	}
	return nil
}

// objectKey places a slip under slips/<yyyymmdd>/<uuid>.<ext>.
func objectKey(now time.Time, s payment.Slip) string {
	ext := strings.ToLower(path.Ext(s.Filename))
	switch http.DetectContentType(s.Data) {
	case "image/jpeg":
		ext = ".jpg"
	case "image/png":
		ext = ".png"
	}
	return fmt.Sprintf("slips/%s/%s%s", now.UTC().Format("20060102"), uuid.New().String(), ext)
}
