package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/go-faster/errors"

	"github.com/xenking/course-checkout/internal/domain/apperr"
	"github.com/xenking/course-checkout/internal/domain/payment"
)

const service = "storage"

// OSSConfig configures the Aliyun OSS slip store.
type OSSConfig struct {
	Endpoint        string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
	// PublicURL overrides https://<bucket>.<endpoint> as the URL prefix.
	PublicURL string
	Timeout   time.Duration `default:"30s"`
}

// bucket is the subset of *oss.Bucket used by OSS.
type bucket interface {
	PutObject(key string, r io.Reader, options ...oss.Option) error
	DeleteObject(key string, options ...oss.Option) error
}

var _ payment.SlipStorage = (*OSS)(nil)

// OSS stores slips in an Aliyun OSS bucket.
type OSS struct {
	bucket  bucket
	limits  Limits
	baseURL string
	now     func() time.Time
}

// NewOSS connects to the configured bucket.
func NewOSS(cfg OSSConfig, limits Limits) (*OSS, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("oss endpoint and bucket are required")
	}
	timeout := int64(cfg.Timeout / time.Second)
	if timeout <= 0 {
		timeout = 30
	}
	client, err := oss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.AccessKeySecret, oss.Timeout(timeout, timeout*4))
	if err != nil {
		return nil, errors.Wrap(err, "oss client")
	}
	b, err := client.Bucket(cfg.Bucket)
	if err != nil {
		return nil, errors.Wrap(err, "oss bucket")
	}

	base := cfg.PublicURL
	if base == "" {
		base = fmt.Sprintf("https://%s.%s", cfg.Bucket, cfg.Endpoint)
	}
	return newOSS(b, limits, base), nil
}

func newOSS(b bucket, limits Limits, baseURL string) *OSS {
	return &OSS{bucket: b, limits: limits, baseURL: baseURL, now: time.Now}
}

// Validate checks slip against the configured limits.
func (s *OSS) Validate(slip payment.Slip) error {
	return Validate(s.limits, slip)
}

// Upload validates slip and writes it under a fresh key.
func (s *OSS) Upload(ctx context.Context, slip payment.Slip) (*payment.StoredSlip, error) {
	if err := s.Validate(slip); err != nil {
		return nil, err
	}
	key := objectKey(s.now(), slip)
	err := s.bucket.PutObject(key, bytes.NewReader(slip.Data),
		oss.ContentType(http.DetectContentType(slip.Data)),
		oss.WithContext(ctx),
	)
	if err != nil {
		return nil, apperr.Upstream(service, errors.Wrap(err, "put object"))
	}
	return &payment.StoredSlip{Path: key, URL: s.baseURL + "/" + key}, nil
}

// Delete removes a previously uploaded slip.
func (s *OSS) Delete(ctx context.Context, path string) error {
	if err := s.bucket.DeleteObject(path, oss.WithContext(ctx)); err != nil {
		return apperr.Upstream(service, errors.Wrap(err, "delete object"))
	}
	return nil
}
