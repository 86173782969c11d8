// Command coupon-import bulk-loads coupon codes from gzip-compressed CSV
// files. Files are parsed concurrently; codes repeated within or across files
// keep their first occurrence, and codes already in the database are skipped.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"

	"github.com/go-faster/errors"

	"github.com/xenking/course-checkout/internal/domain/coupon"
	"github.com/xenking/course-checkout/internal/repository"
)

const defaultBatchSize = 10_000

func main() {
	var (
		dataDir     string
		databaseURL string
		batchSize   int
		dryRun      bool
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing *.csv.gz coupon files (ignored when files are given as arguments)")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&batchSize, "batch-size", defaultBatchSize, "coupons per COPY batch")
	flag.BoolVar(&dryRun, "dry-run", false, "parse and deduplicate without writing")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !dryRun {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	files := flag.Args()
	if len(files) == 0 {
		matches, err := filepath.Glob(filepath.Join(dataDir, "*.csv.gz"))
		if err != nil {
			slog.Error("list data dir", slog.String("error", err.Error()))
			os.Exit(1)
		}
		sort.Strings(matches)
		files = matches
	}
	if len(files) == 0 {
		slog.Error("no coupon files found", slog.String("data_dir", dataDir))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, files, databaseURL, batchSize, dryRun); err != nil {
		slog.Error("coupon import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon import completed successfully")
}

func run(ctx context.Context, files []string, databaseURL string, batchSize int, dryRun bool) error {
	slog.Info("parsing coupon files", slog.Int("files", len(files)))

	parsed, err := parseFiles(ctx, files)
	if err != nil {
		return errors.Wrap(err, "parse files")
	}

	coupons, dups := dedupe(parsed)
	slog.Info("deduplicated coupons",
		slog.Int("unique", len(coupons)),
		slog.Int("duplicates", dups),
	)

	if dryRun || len(coupons) == 0 {
		return nil
	}

	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	return write(ctx, repository.NewCouponRepository(pool), coupons, batchSize)
}

// Importer inserts coupons, skipping ones that already exist.
type Importer interface {
	Import(ctx context.Context, coupons []coupon.Coupon) (int64, error)
}

func write(ctx context.Context, imp Importer, coupons []coupon.Coupon, batchSize int) error {
	var inserted int64
	for start := 0; start < len(coupons); start += batchSize {
		end := min(start+batchSize, len(coupons))
		n, err := imp.Import(ctx, coupons[start:end])
		if err != nil {
			return errors.Wrapf(err, "import batch at %d", start)
		}
		inserted += n
		slog.Info("write progress", slog.Int("written", end), slog.Int("total", len(coupons)))
	}
	slog.Info("coupons inserted",
		slog.Int64("inserted", inserted),
		slog.Int64("existing", int64(len(coupons))-inserted),
	)
	return nil
}
