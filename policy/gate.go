// Package policy decides whether a thumbnail attempt is worth its network
// cost before any byte is fetched.
package policy

import (
	"fmt"

	"github.com/previewd/previewd/pkg/misc"
	"github.com/previewd/previewd/previewd"
)

// Size ceilings for document covers: rendering a first page requires
// downloading the whole file, so the ceiling depends on how expensive the
// transport is.
const (
	lanDocumentLimit      = 3 << 20  // 3 MiB
	lanDocumentLargeLimit = 50 << 20 // 50 MiB
	wanDocumentLimit      = 1 << 20  // 1 MiB
	wanDocumentLargeLimit = 10 << 20 // 10 MiB
)

// Gate is the pre-flight check of the thumbnail pipeline.
type Gate struct {
	settings previewd.Settings
}

func NewGate(settings previewd.Settings) *Gate {
	return &Gate{
		settings: settings,
	}
}

// Evaluate returns nil if a thumbnail attempt is allowed and a
// [*previewd.DeniedError] if it is not.
func (g *Gate) Evaluate(req previewd.ThumbnailRequest) error {
	switch req.Kind {
	case previewd.MediaImage:
		// Images are always worth an attempt: decoding is cheap and the
		// download cost is bounded by the extractor deadline.
		return nil

	case previewd.MediaVideo:
		if !g.settings.ShowVideoThumbnails() {
			return &previewd.DeniedError{Reason: "video thumbnails are disabled"}
		}
		return nil

	case previewd.MediaDocument:
		limit := g.documentSizeLimit(req)
		if req.FileSize > limit {
			return &previewd.DeniedError{Reason: fmt.Sprintf(
				"document is too large: %s > %s",
				misc.FormatFileSize(req.FileSize), misc.FormatFileSize(limit),
			)}
		}
		return nil

	default:
		return &previewd.DeniedError{Reason: fmt.Sprintf("unknown media kind: %q", req.Kind)}
	}
}

func (g *Gate) documentSizeLimit(req previewd.ThumbnailRequest) int64 {
	large := req.Flags.AllowLargeDocumentThumbnails

	// E-book covers always use the large ceiling, even with the flag off.
	if previewd.IsEbookPath(req.SourcePath) {
		large = true
	}

	if req.Protocol == previewd.ProtocolLANShare {
		if large {
			return lanDocumentLargeLimit
		}
		return lanDocumentLimit
	}
	if large {
		return wanDocumentLargeLimit
	}
	return wanDocumentLimit
}
