package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/course-checkout/internal/domain/payment"
)

var _ payment.SlipStorage = (*Dir)(nil)

// Dir stores slips on the local filesystem. It is meant for development
// setups without an object store.
type Dir struct {
	root    string
	limits  Limits
	baseURL string
	now     func() time.Time
}

// NewDir returns a Dir rooted at root; URLs are baseURL joined with the key.
func NewDir(root, baseURL string, limits Limits) (*Dir, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, errors.Wrap(err, "create slip dir")
	}
	return &Dir{root: root, limits: limits, baseURL: strings.TrimSuffix(baseURL, "/"), now: time.Now}, nil
}

// Validate checks slip against the configured limits.
func (d *Dir) Validate(slip payment.Slip) error {
	return Validate(d.limits, slip)
}

// Upload validates slip and writes it below the root under a fresh key.
func (d *Dir) Upload(_ context.Context, slip payment.Slip) (*payment.StoredSlip, error) {
	if err := d.Validate(slip); err != nil {
		return nil, err
	}
	key := objectKey(d.now(), slip)
	name := filepath.Join(d.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(name), 0o750); err != nil {
		return nil, errors.Wrap(err, "create slip dir")
	}
	if err := os.WriteFile(name, slip.Data, 0o640); err != nil {
		return nil, errors.Wrap(err, "write slip")
	}
	return &payment.StoredSlip{Path: key, URL: d.baseURL + "/" + key}, nil
}

// Delete removes the file stored under key. A missing file is not an error.
func (d *Dir) Delete(_ context.Context, key string) error {
	err := os.Remove(filepath.Join(d.root, filepath.FromSlash(key)))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrap(err, "remove slip")
	}
	return nil
}
