package main

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-orders/internal/domain/product"
	"github.com/xenking/kart-orders/internal/domain/user"
)

const (
	bloomFPR     = 0.001
	maxLineBytes = 1 << 20
)

type options struct {
	Workers  int
	Expected uint
}

type stats struct {
	Read       int
	Imported   int64
	Duplicates int
	Invalid    int
}

func (s stats) log(lg *zap.Logger, kind string) {
	lg.Info("Import finished",
		zap.String("kind", kind),
		zap.Int("read", s.Read),
		zap.Int64("imported", s.Imported),
		zap.Int("duplicates", s.Duplicates),
		zap.Int("invalid", s.Invalid),
	)
}

// streamLines calls fn with the 1-based line number of every non-blank line.
// Files ending in .gz are decompressed.
func streamLines(ctx context.Context, path string, fn func(n int, line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return errors.Wrapf(err, "create gzip reader for %s", path)
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	n := 0
	for scanner.Scan() {
		n++
		if err := ctx.Err(); err != nil {
			return err
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := fn(n, line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}

// suspects streams the file once and returns the IDs the bloom filter had
// already seen. Every real duplicate is among them, so the second pass only
// keeps exact state for these IDs.
func suspects[T any](ctx context.Context, path string, expected uint, decode func([]byte) (T, error), id func(T) string) (map[string]bool, error) {
	filter := bloom.NewWithEstimates(max(expected, 1), bloomFPR)
	out := make(map[string]bool)
	err := streamLines(ctx, path, func(_ int, line []byte) error {
		rec, err := decode(line)
		if err != nil {
			return nil
		}
		if filter.TestAndAddString(id(rec)) {
			out[id(rec)] = false
		}
		return nil
	})
	return out, err
}

// importFile upserts every valid record of path. The first occurrence of a
// duplicated ID wins; invalid lines are logged and skipped.
func importFile[T any](
	ctx context.Context,
	lg *zap.Logger,
	path string,
	opts options,
	decode func([]byte) (T, error),
	id func(T) string,
	upsert func(context.Context, T) error,
) (stats, error) {
	var st stats
	seen, err := suspects(ctx, path, opts.Expected, decode, id)
	if err != nil {
		return st, errors.Wrap(err, "scan for duplicates")
	}
	lg.Info("Duplicate scan complete", zap.String("file", path), zap.Int("suspects", len(seen)))

	workers := max(opts.Workers, 1)
	records := make(chan T, workers*4)
	var imported atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	for range workers {
		g.Go(func() error {
			for rec := range records {
				if err := upsert(gctx, rec); err != nil {
					return errors.Wrapf(err, "upsert %s", id(rec))
				}
				imported.Add(1)
			}
			return nil
		})
	}
	g.Go(func() error {
		defer close(records)
		return streamLines(gctx, path, func(n int, line []byte) error {
			st.Read++
			rec, err := decode(line)
			if err != nil {
				st.Invalid++
				lg.Warn("Skipping invalid line", zap.String("file", path), zap.Int("line", n), zap.Error(err))
				return nil
			}
			if done, suspect := seen[id(rec)]; suspect {
				if done {
					st.Duplicates++
					return nil
				}
				seen[id(rec)] = true
			}
			select {
			case records <- rec:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	})

	err = g.Wait()
	st.Imported = imported.Load()
	return st, err
}

func importProducts(ctx context.Context, lg *zap.Logger, path string, repo product.Repository, opts options) (stats, error) {
	return importFile(ctx, lg, path, opts, decodeProduct,
		func(p product.Product) string { return p.ID },
		repo.Upsert,
	)
}

func importUsers(ctx context.Context, lg *zap.Logger, path string, repo user.Repository, opts options) (stats, error) {
	return importFile(ctx, lg, path, opts, decodeUser,
		func(u user.User) string { return u.ID },
		repo.Upsert,
	)
}
