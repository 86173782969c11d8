package storage

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/course-checkout/internal/domain/apperr"
	"github.com/xenking/course-checkout/internal/domain/payment"
)

func pngOf(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.White)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func jpegOf(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h)), nil))
	return buf.Bytes()
}

func TestValidate(t *testing.T) {
	limits := DefaultLimits()
	bigLimits := limits
	bigLimits.MaxBytes = 64

	tests := []struct {
		name    string
		limits  Limits
		data    []byte
		wantErr bool
	}{
		{name: "png", limits: limits, data: pngOf(t, 400, 300)},
		{name: "jpeg", limits: limits, data: jpegOf(t, 200, 200)},
		{name: "empty", limits: limits, data: nil, wantErr: true},
		{name: "too small", limits: limits, data: pngOf(t, 199, 400), wantErr: true},
		{name: "too tall", limits: limits, data: pngOf(t, 300, 10001), wantErr: true},
		{name: "too many bytes", limits: bigLimits, data: pngOf(t, 300, 300), wantErr: true},
		{name: "gif", limits: limits, data: []byte("GIF89a\x01\x00\x01\x00\x00\x00\x00;"), wantErr: true},
		{name: "text", limits: limits, data: []byte("hello"), wantErr: true},
		{name: "truncated png", limits: limits, data: pngOf(t, 300, 300)[:20], wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.limits, payment.Slip{Filename: "slip.png", Data: tt.data})
			if !tt.wantErr {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, apperr.ErrInvalidInput)
			e, ok := apperr.As(err)
			require.True(t, ok)
			assert.Contains(t, e.Fields, "slip")
		})
	}
}

func TestObjectKey(t *testing.T) {
	now := time.Date(2024, 3, 9, 23, 0, 0, 0, time.UTC)
	key := objectKey(now, payment.Slip{Filename: "scan.JPEG", Data: jpegOf(t, 200, 200)})
	assert.Regexp(t, regexp.MustCompile(`^slips/20240309/[0-9a-f-]{36}\.jpg$`), key)
}

type fakeBucket struct {
	objects map[string][]byte
	putErr  error
}

func (b *fakeBucket) PutObject(key string, r io.Reader, _ ...oss.Option) error {
	if b.putErr != nil {
		return b.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	b.objects[key] = data
	return nil
}

func (b *fakeBucket) DeleteObject(key string, _ ...oss.Option) error {
	delete(b.objects, key)
	return nil
}

func TestOSS(t *testing.T) {
	ctx := context.Background()
	b := &fakeBucket{objects: map[string][]byte{}}
	s := newOSS(b, DefaultLimits(), "https://slips.oss-ap-southeast-1.aliyuncs.com")

	data := pngOf(t, 300, 300)
	stored, err := s.Upload(ctx, payment.Slip{Filename: "a.png", Data: data})
	require.NoError(t, err)
	assert.Equal(t, "https://slips.oss-ap-southeast-1.aliyuncs.com/"+stored.Path, stored.URL)
	assert.Equal(t, data, b.objects[stored.Path])

	require.NoError(t, s.Delete(ctx, stored.Path))
	assert.Empty(t, b.objects)

	t.Run("invalid slip is not uploaded", func(t *testing.T) {
		_, err := s.Upload(ctx, payment.Slip{Data: []byte("nope")})
		require.ErrorIs(t, err, apperr.ErrInvalidInput)
		assert.Empty(t, b.objects)
	})
	t.Run("bucket failure", func(t *testing.T) {
		b.putErr = errors.New("connection reset")
		defer func() { b.putErr = nil }()
		_, err := s.Upload(ctx, payment.Slip{Data: data})
		require.ErrorIs(t, err, apperr.ErrUpstreamUnavailable)
	})
}

func TestDir(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s, err := NewDir(root, "http://localhost:8080/slips/", DefaultLimits())
	require.NoError(t, err)

	data := jpegOf(t, 250, 250)
	stored, err := s.Upload(ctx, payment.Slip{Filename: "x.jpg", Data: data})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/slips/"+stored.Path, stored.URL)

	got, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(stored.Path)))
	require.NoError(t, err)
	assert.Equal(t, data, got)

	require.NoError(t, s.Delete(ctx, stored.Path))
	require.NoError(t, s.Delete(ctx, stored.Path), "deleting twice is not an error")
}
