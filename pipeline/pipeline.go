// Package pipeline ties the thumbnail stages together: policy gating,
// failure memoization, the disk cache, the connection throttle and the
// timed extractor.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/previewd/previewd/memo"
	"github.com/previewd/previewd/pkg/metrics"
	"github.com/previewd/previewd/pkg/rlog"
	"github.com/previewd/previewd/policy"
	"github.com/previewd/previewd/previewd"
	"github.com/previewd/previewd/throttle"
)

// Status is the terminal state of a pipeline run.
type Status string

const (
	// StatusDecoded - a thumbnail is ready and attached to the result.
	StatusDecoded Status = "decoded"
	// StatusDenied - the policy gate decided the attempt is not worth the
	// cost. Deliberate, not an error.
	StatusDenied Status = "denied"
	// StatusFailed - the content couldn't be fetched or decoded, or the
	// extraction hit its deadline.
	StatusFailed Status = "failed"
	// StatusCancelled - the caller abandoned the request.
	StatusCancelled Status = "cancelled"
)

// Result replaces separate success/failure callbacks with a single tagged
// value. Thumbnail is set only for [StatusDecoded] and must be closed by
// the caller.
type Result struct {
	Status    Status
	Thumbnail io.ReadCloser
	// Reason is a human-readable explanation for denied and failed runs.
	Reason string
}

// Extractor produces one representative bitmap from the file content.
type Extractor interface {
	Extract(ctx context.Context, kind previewd.MediaKind, sourcePath string, content io.Reader) (image.Image, error)
}

// Pipeline orchestrates a single thumbnail request from policy check to the
// cache write. Many runs execute concurrently, all sharing the same memo and
// throttle.
type Pipeline struct {
	gate      *policy.Gate
	failures  *memo.FailureMemo
	throttle  *throttle.ConnThrottle
	cache     previewd.Cache
	source    previewd.RemoteSource
	extractor Extractor
}

func NewPipeline(
	gate *policy.Gate, failures *memo.FailureMemo, connThrottle *throttle.ConnThrottle,
	cache previewd.Cache, source previewd.RemoteSource, extractor Extractor,
) *Pipeline {

	return &Pipeline{
		gate:      gate,
		failures:  failures,
		throttle:  connThrottle,
		cache:     cache,
		source:    source,
		extractor: extractor,
	}
}

// Run executes the request and returns its terminal state. Cancel the ctx to
// abandon the run: an acquired throttle slot is released and an in-flight
// extraction is interrupted, but the failure memo stays untouched -
// cancellation reflects the caller, not the content.
func (p *Pipeline) Run(ctx context.Context, req previewd.ThumbnailRequest) Result {
	res := p.run(ctx, req)
	metrics.PipelineResults.WithLabelValues(string(res.Status)).Inc()
	return res
}

func (p *Pipeline) run(ctx context.Context, req previewd.ThumbnailRequest) Result {
	key := req.Key()
	failureKind := memo.KindForMedia(req.Kind)

	// Policy check: zero network activity before this returns nil.
	if err := p.gate.Evaluate(req); err != nil {
		metrics.PipelineDenials.Inc()
		rlog.Debugf("request for %q denied: %s", req.SourcePath, err)

		var deniedErr *previewd.DeniedError
		if errors.As(err, &deniedErr) {
			return Result{Status: StatusDenied, Reason: deniedErr.Reason}
		}
		return Result{Status: StatusDenied, Reason: err.Error()}
	}

	// Failure memo check: known-bad paths fail immediately, still no
	// network activity.
	if p.failures.IsKnownBad(req.SourcePath, failureKind) {
		metrics.PipelineMemoHits.Inc()
		return Result{Status: StatusFailed, Reason: "known to fail"}
	}

	// Disk check: a hit ends the run without touching the throttle.
	switch rc, err := p.cache.Open(key); {
	case err == nil:
		return Result{Status: StatusDecoded, Thumbnail: rc}
	case !errors.Is(err, previewd.ErrCacheMiss):
		rlog.Warnf("couldn't check thumbnail cache for %q: %s", req.SourcePath, err)
	}

	if ctx.Err() != nil {
		return Result{Status: StatusCancelled, Reason: ctx.Err().Error()}
	}

	// Fetch slot: suspend until a slot is free or the caller gives up.
	token, err := p.throttle.Acquire(ctx)
	if err != nil {
		return Result{Status: StatusCancelled, Reason: err.Error()}
	}
	// Exactly one release on every exit path below.
	defer token.Release()

	img, err := p.fetchAndExtract(ctx, req)
	if err != nil {
		if previewd.IsCancel(err) {
			return Result{Status: StatusCancelled, Reason: err.Error()}
		}

		// A fetch error, a decode error and a timeout all look the same
		// from here on: the path is not worth retrying until restart.
		p.failures.MarkBad(req.SourcePath, failureKind)
		rlog.Debugf("marked %q as bad (%s), %d records total", req.SourcePath, failureKind, p.failures.Len())

		return Result{Status: StatusFailed, Reason: err.Error()}
	}

	if err := p.cache.Write(key, img); err != nil {
		// The thumbnail was extracted, the content is fine - don't poison
		// the memo because the local disk misbehaved.
		rlog.Errorf("couldn't cache thumbnail for %q: %s", req.SourcePath, err)
		return Result{Status: StatusFailed, Reason: fmt.Sprintf("couldn't cache thumbnail: %s", err)}
	}

	rc, err := p.cache.Open(key)
	if err != nil {
		rlog.Errorf("couldn't open just written thumbnail for %q: %s", req.SourcePath, err)
		return Result{Status: StatusFailed, Reason: err.Error()}
	}
	return Result{Status: StatusDecoded, Thumbnail: rc}
}

func (p *Pipeline) fetchAndExtract(ctx context.Context, req previewd.ThumbnailRequest) (image.Image, error) {
	content, size, err := p.source.OpenFile(ctx, req.SourcePath, req.CredentialsRef)
	if err != nil {
		if previewd.IsCancel(err) {
			return nil, err
		}
		return nil, &previewd.FetchError{Err: err}
	}
	defer content.Close()

	if size > 0 && size != req.FileSize {
		rlog.Debugf("size of %q changed: %d -> %d", req.SourcePath, req.FileSize, size)
	}

	return p.extractor.Extract(ctx, req.Kind, req.SourcePath, content)
}
