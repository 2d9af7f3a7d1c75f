// Package memo remembers paths a thumbnail could not be extracted from, so
// scrolling over them again doesn't retry an expensive fetch.
package memo

import (
	"sync"

	"github.com/previewd/previewd/previewd"
)

// FailureKind splits the bad list by what exactly failed. The kinds are
// independent: a path can be marked thumbnail-failed without being
// video-failed.
type FailureKind string

const (
	KindThumbnail  FailureKind = "thumbnail"
	KindVideoFrame FailureKind = "video-frame"
)

// KindForMedia maps a media kind to the failure kind its extraction failures
// are recorded under.
func KindForMedia(kind previewd.MediaKind) FailureKind {
	if kind == previewd.MediaVideo {
		return KindVideoFrame
	}
	return KindThumbnail
}

type record struct {
	path string
	kind FailureKind
}

// FailureMemo is a process-lifetime record of known-bad paths. Records are
// never removed: a transient failure stays failed until restart. Safe for
// concurrent use from many simultaneous bind and cancel calls.
type FailureMemo struct {
	mu  sync.RWMutex
	bad map[record]struct{}
}

func NewFailureMemo() *FailureMemo {
	return &FailureMemo{
		bad: make(map[record]struct{}),
	}
}

func (m *FailureMemo) IsKnownBad(path string, kind FailureKind) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.bad[record{path: path, kind: kind}]
	return ok
}

// MarkBad is idempotent: marking an already bad path is a no-op.
func (m *FailureMemo) MarkBad(path string, kind FailureKind) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.bad[record{path: path, kind: kind}] = struct{}{}
}

// Len returns the number of known-bad records, for logging.
func (m *FailureMemo) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.bad)
}
