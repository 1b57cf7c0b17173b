package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"math/bits"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/quickbite/internal/domain/promo"
	"github.com/xenking/quickbite/internal/storage/postgres"
)

const (
	bloomFPR      = 0.001
	progressEvery = 10_000_000
	batchSize     = 5_000
)

// options describe one import run. Every imported code gets the same rule.
type options struct {
	pattern     string
	capacity    uint
	quorum      int
	minLen      int
	maxLen      int
	title       string
	discount    string
	value       decimal.Decimal
	maxDiscount decimal.NullDecimal
	minOrder    decimal.NullDecimal
	perCustomer int
	validDays   int
}

// fileResult holds candidate codes found in a single file during pass 2.
type fileResult struct {
	candidates map[string]uint
}

func main() {
	var (
		opts        options
		databaseURL string
		value       string
		maxDiscount string
		minOrder    string
	)

	flag.StringVar(&opts.pattern, "files", "data/*.gz", "glob of gzip code lists, one code per line")
	flag.UintVar(&opts.capacity, "capacity", 10_000_000, "expected codes per file, sizes the bloom filters")
	flag.IntVar(&opts.quorum, "quorum", 2, "import codes listed in at least this many files")
	flag.IntVar(&opts.minLen, "min-len", 6, "shortest accepted code")
	flag.IntVar(&opts.maxLen, "max-len", 12, "longest accepted code")
	flag.StringVar(&opts.title, "title", "Imported promo", "title of imported codes")
	flag.StringVar(&opts.discount, "discount-type", "PERCENTAGE", "FLAT or PERCENTAGE")
	flag.StringVar(&value, "discount-value", "10", "discount value")
	flag.StringVar(&maxDiscount, "max-discount", "", "discount cap, empty for none")
	flag.StringVar(&minOrder, "min-order", "", "minimum order total, empty for none")
	flag.IntVar(&opts.perCustomer, "per-customer", 1, "redemptions allowed per customer, 0 for unlimited")
	flag.IntVar(&opts.validDays, "valid-days", 30, "days the codes stay valid from now")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if err := opts.parse(value, maxDiscount, minOrder); err != nil {
		slog.Error("invalid options", slog.String("error", err.Error()))
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, opts, databaseURL); err != nil {
		slog.Error("promo import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("promo import completed successfully")
}

func (o *options) parse(value, maxDiscount, minOrder string) error {
	dt, ok := promo.ParseDiscountType(o.discount)
	if !ok {
		return errors.Errorf("unknown discount type %q", o.discount)
	}
	o.discount = string(dt)

	v, err := decimal.NewFromString(value)
	if err != nil || !v.IsPositive() {
		return errors.Errorf("discount value %q must be a positive number", value)
	}
	if dt == promo.DiscountPercentage && v.GreaterThan(decimal.NewFromInt(100)) {
		return errors.New("percentage discount must be at most 100")
	}
	o.value = v

	for _, f := range []struct {
		raw string
		dst *decimal.NullDecimal
	}{{maxDiscount, &o.maxDiscount}, {minOrder, &o.minOrder}} {
		if f.raw == "" {
			continue
		}
		d, err := decimal.NewFromString(f.raw)
		if err != nil {
			return errors.Wrapf(err, "parse %q", f.raw)
		}
		*f.dst = decimal.NewNullDecimal(d)
	}

	if o.quorum < 1 {
		return errors.New("quorum must be at least 1")
	}
	if o.minLen < 1 || o.maxLen < o.minLen || o.maxLen > 50 {
		return errors.New("code length bounds must satisfy 1 <= min-len <= max-len <= 50")
	}
	if o.validDays < 1 {
		return errors.New("valid-days must be at least 1")
	}
	return nil
}

func run(ctx context.Context, opts options, databaseURL string) error {
	files, err := filepath.Glob(opts.pattern)
	if err != nil {
		return errors.Wrap(err, "expand file pattern")
	}
	if len(files) == 0 {
		return errors.Errorf("no files match %q", opts.pattern)
	}
	if len(files) > bits.UintSize {
		return errors.Errorf("at most %d files per import, got %d", bits.UintSize, len(files))
	}
	if opts.quorum > len(files) {
		return errors.Errorf("quorum %d exceeds the number of files (%d)", opts.quorum, len(files))
	}
	slices.Sort(files)

	var filters []*bloom.BloomFilter
	if opts.quorum > 1 {
		// Pass 1: Build bloom filters concurrently.
		slog.Info("pass 1: building bloom filters", slog.Int("files", len(files)))

		filters, err = buildBloomFilters(ctx, files, opts)
		if err != nil {
			return errors.Wrap(err, "build bloom filters")
		}
	}

	// Pass 2: Find codes listed in enough files.
	slog.Info("pass 2: finding candidate codes", slog.Int("quorum", opts.quorum))

	codes, err := findValidCodes(ctx, files, filters, opts)
	if err != nil {
		return errors.Wrap(err, "find valid codes")
	}

	slog.Info("valid codes found", slog.Int("count", len(codes)))

	if len(codes) == 0 {
		slog.Info("no valid codes to insert")
		return nil
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := writeCodes(ctx, pool, codes, opts); err != nil {
		return errors.Wrap(err, "write promo codes to database")
	}

	return nil
}

// normalize returns the stored form of a listed code and whether it is
// acceptable.
func normalize(line string, opts options) (string, bool) {
	code := promo.NormalizeCode(line)
	if len(code) < opts.minLen || len(code) > opts.maxLen {
		return "", false
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return "", false
		}
	}
	return code, true
}

// buildBloomFilters creates one bloom filter per file, concurrently.
func buildBloomFilters(ctx context.Context, files []string, opts options) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(opts.capacity, bloomFPR)
			var count uint64

			if err := streamGzFile(ctx, f, func(line string) {
				code, ok := normalize(line, opts)
				if !ok {
					return
				}
				filter.AddString(code)
				count++
				if count%progressEvery == 0 {
					slog.Info("pass 1 progress", slog.String("file", f), slog.Uint64("codes", count))
				}
			}); err != nil {
				return errors.Wrapf(err, "build filter for %s", f)
			}

			slog.Info("pass 1 complete", slog.String("file", f), slog.Uint64("total_codes", count))
			filters[i] = filter
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// findValidCodes re-streams each file and keeps codes that other files'
// bloom filters report, then confirms the quorum exactly by merging the
// per-file bitmasks.
func findValidCodes(ctx context.Context, files []string, filters []*bloom.BloomFilter, opts options) ([]string, error) {
	results := make([]fileResult, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			candidates := make(map[string]uint)
			fileBit := uint(1) << uint(i)
			var count uint64

			if err := streamGzFile(ctx, f, func(line string) {
				code, ok := normalize(line, opts)
				if !ok {
					return
				}
				count++
				if count%progressEvery == 0 {
					slog.Info("pass 2 progress", slog.String("file", f), slog.Uint64("codes", count))
				}
				if listedElsewhere(code, i, filters, opts.quorum) {
					candidates[code] |= fileBit
				}
			}); err != nil {
				return errors.Wrapf(err, "scan %s for candidates", f)
			}

			slog.Info("pass 2 complete",
				slog.String("file", f),
				slog.Uint64("total_codes", count),
				slog.Int("candidates", len(candidates)),
			)
			results[i] = fileResult{candidates: candidates}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]uint)
	for _, r := range results {
		for code, mask := range r.candidates {
			merged[code] |= mask
		}
	}

	var valid []string
	for code, mask := range merged {
		if bits.OnesCount(mask) >= opts.quorum {
			valid = append(valid, code)
		}
	}
	slices.Sort(valid)
	return valid, nil
}

// listedElsewhere reports whether enough other filters may contain code.
func listedElsewhere(code string, idx int, filters []*bloom.BloomFilter, quorum int) bool {
	need := quorum - 1
	if need <= 0 {
		return true
	}
	for j, f := range filters {
		if j == idx || !f.TestString(code) {
			continue
		}
		need--
		if need == 0 {
			return true
		}
	}
	return false
}

// streamGzFile opens a gzip-compressed file and calls fn for each line.
func streamGzFile(ctx context.Context, path string, fn func(line string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(scanner.Text())
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}

const (
	createStagingSQL = `CREATE TEMP TABLE promo_import (code TEXT NOT NULL) ON COMMIT DROP`

	insertImportedSQL = `INSERT INTO promo_codes (code, title, discount_type, discount_value,
			max_discount_amount, min_order_amount, usage_limit_per_customer, valid_from, valid_until)
		SELECT code, $1::text, $2::text, $3::numeric, $4::numeric, $5::numeric, $6::int,
			$7::timestamptz, $8::timestamptz
		FROM promo_import
		ON CONFLICT (code) DO NOTHING`
)

// writeCodes copies the codes into a staging table in batches and inserts
// the new ones. Existing codes keep their rules.
func writeCodes(ctx context.Context, pool *pgxpool.Pool, codes []string, opts options) error {
	slog.Info("writing promo codes to database", slog.Int("count", len(codes)))

	from := time.Now().UTC()
	until := from.AddDate(0, 0, opts.validDays)

	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, createStagingSQL); err != nil {
			return errors.Wrap(err, "create staging table")
		}

		for start := 0; start < len(codes); start += batchSize {
			batch := codes[start:min(start+batchSize, len(codes))]
			if _, err := tx.CopyFrom(ctx,
				pgx.Identifier{"promo_import"},
				[]string{"code"},
				pgx.CopyFromSlice(len(batch), func(i int) ([]any, error) {
					return []any{batch[i]}, nil
				}),
			); err != nil {
				return errors.Wrapf(err, "copy batch at %d", start)
			}
			slog.Info("copy progress", slog.Int("written", start+len(batch)), slog.Int("total", len(codes)))
		}

		tag, err := tx.Exec(ctx, insertImportedSQL,
			opts.title, opts.discount, opts.value,
			opts.maxDiscount, opts.minOrder, opts.perCustomer, from, until,
		)
		if err != nil {
			return errors.Wrap(err, "insert promo codes")
		}
		slog.Info("promo codes inserted",
			slog.Int64("inserted", tag.RowsAffected()),
			slog.Int64("existing", int64(len(codes))-tag.RowsAffected()),
		)
		return nil
	})
}
