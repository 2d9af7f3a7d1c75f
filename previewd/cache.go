package previewd

import (
	"image"
	"io"
)

// Cache stores decoded thumbnails, at most one per source path. Writes for
// a path overwrite the previous entry (last-writer-wins), reads are keyed by
// the full [ThumbnailKey], so a key component change is a miss even when the
// old entry is still on disk.
type Cache interface {
	// Open returns the encoded thumbnail content. If a thumbnail for the key
	// is not cached, it returns [ErrCacheMiss].
	Open(key ThumbnailKey) (io.ReadCloser, error)
	// Check can be used to check whether a thumbnail is cached. If it is not,
	// it returns [ErrCacheMiss].
	Check(key ThumbnailKey) error
	// Write encodes the image and atomically replaces any previous entry for
	// key.SourcePath.
	Write(key ThumbnailKey, img image.Image) error
	Remove(key ThumbnailKey) error
}
