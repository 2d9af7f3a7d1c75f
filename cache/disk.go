package cache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/chai2010/webp"
	"golang.org/x/text/unicode/norm"

	"github.com/previewd/previewd/pkg/metrics"
	"github.com/previewd/previewd/pkg/rlog"
	"github.com/previewd/previewd/previewd"
)

// thumbnailQuality is the webp quality of all cached thumbnails.
const thumbnailQuality = 85

// DiskCache stores encoded thumbnails on disk, one file per source path.
// Filenames carry a digest of the source path and a digest of the full
// thumbnail key, so a read with a stale key misses even though the path
// digest still matches.
type DiskCache struct {
	absDir string

	cleaner interface{ Shutdown(context.Context) error }
}

var _ previewd.Cache = (*DiskCache)(nil)

type Options struct {
	// MaxFileAge and MaxTotalSize enable the background cleaner. With both
	// zero nothing is ever evicted and the cache grows without bound.
	MaxFileAge   time.Duration
	MaxTotalSize int64
}

func NewDiskCache(dir string, opts Options) (*DiskCache, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("couldn't get absolute path: %w", err)
	}
	if err := os.MkdirAll(absDir, 0o777); err != nil {
		return nil, fmt.Errorf("couldn't create cache dir %q: %w", absDir, err)
	}

	c := &DiskCache{
		absDir:  absDir,
		cleaner: NewNoopCleaner(),
	}
	if opts.MaxFileAge > 0 || opts.MaxTotalSize > 0 {
		c.cleaner = NewCleaner(absDir, opts.MaxFileAge, opts.MaxTotalSize)
	}
	return c, nil
}

// Open returns an [io.ReadCloser] with the encoded thumbnail. If the
// thumbnail is not cached, it returns [previewd.ErrCacheMiss].
func (c *DiskCache) Open(key previewd.ThumbnailKey) (io.ReadCloser, error) {
	path := c.generateFilepath(key)

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			metrics.CacheMisses.Inc()
			return nil, previewd.ErrCacheMiss
		}

		metrics.CacheErrors.Inc()
		return nil, err
	}

	metrics.CacheHits.Inc()
	return file, nil
}

// Check can be used to check whether a thumbnail is cached. If it is not,
// it returns [previewd.ErrCacheMiss].
func (c *DiskCache) Check(key previewd.ThumbnailKey) error {
	path := c.generateFilepath(key)

	_, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			metrics.CacheMisses.Inc()
			return previewd.ErrCacheMiss
		}

		metrics.CacheErrors.Inc()
		return err
	}

	metrics.CacheHits.Inc()
	return nil
}

// Write encodes the image and replaces any previous thumbnail for
// key.SourcePath, whatever key it was written under. The final rename is
// atomic: readers see either the old entry or the new one, never a partial
// file.
func (c *DiskCache) Write(key previewd.ThumbnailKey, img image.Image) error {
	tempFile, err := os.CreateTemp(c.absDir, "previewd-*.tmp")
	if err != nil {
		return fmt.Errorf("couldn't create temp file: %w", err)
	}
	defer os.Remove(tempFile.Name())

	err = webp.Encode(tempFile, img, &webp.Options{Quality: thumbnailQuality})
	if closeErr := tempFile.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("couldn't encode thumbnail: %w", err)
	}

	info, err := os.Stat(tempFile.Name())
	if err == nil {
		metrics.ThumbnailSizes.Observe(float64(info.Size()))
	}

	path := c.generateFilepath(key)
	if err := c.removeSiblings(key, path); err != nil {
		rlog.Warnf("couldn't remove previous thumbnails for %q: %s", key.SourcePath, err)
	}
	if err := os.Rename(tempFile.Name(), path); err != nil {
		metrics.CacheErrors.Inc()
		return fmt.Errorf("couldn't rename temp file: %w", err)
	}
	return nil
}

// Remove removes the cached thumbnail for the exact key. To remove thumbnails
// over time use [Cleaner], cache files should be manually removed only in
// case of an error.
func (c *DiskCache) Remove(key previewd.ThumbnailKey) error {
	return os.Remove(c.generateFilepath(key))
}

func (c *DiskCache) Shutdown(ctx context.Context) error {
	return c.cleaner.Shutdown(ctx)
}

// removeSiblings removes entries written for the same source path under
// other keys, keeping at most one thumbnail per path.
func (c *DiskCache) removeSiblings(key previewd.ThumbnailKey, keepPath string) error {
	pattern := filepath.Join(c.absDir, fmt.Sprintf("%016x-*.webp", pathDigest(key.SourcePath)))
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return err
	}

	var errs []error
	for _, match := range matches {
		if match == keepPath {
			continue
		}
		if err := os.Remove(match); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// generateFilepath generates a filepath of pattern '<dir>/<path digest>-<key digest>.webp'.
func (c *DiskCache) generateFilepath(key previewd.ThumbnailKey) string {
	filename := fmt.Sprintf("%016x-%016x.webp", pathDigest(key.SourcePath), keyDigest(key))

	return filepath.Join(c.absDir, filename)
}

// pathDigest hashes the NFC-normalized source path, so the same remote file
// named in different unicode normal forms maps to the same entry.
func pathDigest(sourcePath string) uint64 {
	return xxhash.Sum64String(norm.NFC.String(sourcePath))
}

// keyDigest hashes every field of the key. Fields are written with length
// prefixes instead of delimiters, a path can contain any rune.
func keyDigest(key previewd.ThumbnailKey) uint64 {
	d := xxhash.New()

	writeString := func(s string) {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(len(s)))
		d.Write(buf[:])
		d.WriteString(s)
	}
	writeInt := func(v int64) {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		d.Write(buf[:])
	}

	writeString(norm.NFC.String(key.SourcePath))
	writeInt(key.FileSize)
	writeString(key.CredentialsRef)

	var flags int64
	if key.Flags.AllowLargeDocumentThumbnails {
		flags |= 1
	}
	writeInt(flags)
	writeInt(int64(key.Generation))

	return d.Sum64()
}
