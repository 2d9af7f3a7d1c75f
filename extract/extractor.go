// Package extract produces one representative bitmap for a remote media
// file: a video frame, a document first page or the image itself.
package extract

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"

	"github.com/previewd/previewd/pkg/metrics"
	"github.com/previewd/previewd/pkg/misc"
	"github.com/previewd/previewd/pkg/rlog"
	"github.com/previewd/previewd/previewd"
)

type extractFn func(ctx context.Context, originalFile string) (image.Image, error)

// Extractor runs extractions on a dedicated bounded worker pool, never on
// the caller's goroutine, and joins every extraction against a hard
// deadline. A decoder stuck on a slow link or a broken file is killed, not
// waited for.
type Extractor struct {
	timeout      time.Duration
	maxDimension int

	workersCount int

	// extractFns per media kind, replaceable in tests.
	extractFns map[previewd.MediaKind]extractFn

	tasksCh       chan *task
	stopped       *atomic.Bool
	workersDoneCh chan struct{}
}

type task struct {
	ctx        context.Context
	kind       previewd.MediaKind
	sourcePath string
	content    io.Reader

	resultCh chan taskResult
}

type taskResult struct {
	img image.Image
	err error
}

// CheckDeps verifies that the external decoders are installed.
func CheckDeps() error {
	for _, dep := range []string{"ffmpeg", "mutool"} {
		if _, err := exec.LookPath(dep); err != nil {
			return fmt.Errorf("%s is not installed: %w", dep, err)
		}
	}
	return nil
}

// NewExtractor prepares a new extractor with workersCount workers. Every
// extraction gets at most timeout of wall-clock time, counted from the
// moment a worker picks the task up.
func NewExtractor(workersCount int, timeout time.Duration, maxDimension int) *Extractor {
	e := &Extractor{
		timeout:      timeout,
		maxDimension: maxDimension,
		//
		workersCount: workersCount,
		//
		tasksCh:       make(chan *task, 10_000),
		stopped:       new(atomic.Bool),
		workersDoneCh: make(chan struct{}),
	}
	e.extractFns = map[previewd.MediaKind]extractFn{
		previewd.MediaImage:    decodeImage,
		previewd.MediaVideo:    extractVideoFrame,
		previewd.MediaDocument: renderDocumentCover,
	}

	go e.startWorkers()

	return e
}

// Extract reads the file content and produces a downscaled bitmap. It blocks
// until a worker finishes the task, the deadline fires or ctx is cancelled.
// On deadline the error is [previewd.ErrExtractTimeout], on cancellation a
// context error; anything else is a fetch or decode failure.
func (e *Extractor) Extract(ctx context.Context, kind previewd.MediaKind, sourcePath string, content io.Reader) (image.Image, error) {
	if e.stopped.Load() {
		return nil, errors.New("can't extract after Shutdown call")
	}
	if _, ok := e.extractFns[kind]; !ok {
		return nil, fmt.Errorf("unknown media kind: %q", kind)
	}

	t := &task{
		ctx:        ctx,
		kind:       kind,
		sourcePath: sourcePath,
		content:    content,
		resultCh:   make(chan taskResult, 1),
	}

	select {
	case e.tasksCh <- t:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-t.resultCh:
		return res.img, res.err
	case <-ctx.Done():
		// The worker is aborted via the same ctx and will drop its result
		// into the buffered channel.
		return nil, ctx.Err()
	}
}

func (e *Extractor) startWorkers() {
	var wg sync.WaitGroup
	for i := 0; i < e.workersCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for t := range e.tasksCh {
				now := time.Now()
				img, err := e.processTask(t)
				dur := time.Since(now)

				switch {
				case err == nil:
					metrics.ExtractDuration.Observe(dur.Seconds())
					rlog.Debugf("extracted %s preview for %q in %s", t.kind, t.sourcePath, dur)

				case errors.Is(err, previewd.ErrExtractTimeout):
					metrics.ExtractErrors.WithLabelValues("timeout").Inc()
					rlog.Warnf("extraction of %q exceeded %s", t.sourcePath, e.timeout)

				case previewd.IsCancel(err):
					// Nobody is looking anymore, nothing to report.

				default:
					metrics.ExtractErrors.WithLabelValues(errCause(err)).Inc()
					rlog.Errorf("couldn't extract preview for %q: %s", t.sourcePath, err)
				}

				t.resultCh <- taskResult{img: img, err: err}
			}
		}()
	}
	wg.Wait()

	close(e.workersDoneCh)
}

func (e *Extractor) processTask(t *task) (image.Image, error) {
	// The deadline covers the whole extraction: fetching the content and
	// decoding it.
	ctx, cancel := context.WithTimeoutCause(t.ctx, e.timeout, previewd.ErrExtractTimeout)
	defer cancel()

	tempFile, err := os.CreateTemp("", "previewd-*")
	if err != nil {
		return nil, fmt.Errorf("couldn't create temp file: %w", err)
	}
	defer func() {
		if err := tempFile.Close(); err != nil {
			rlog.Errorf("couldn't close temp file: %s", err)

			// Don't exit - try to remove the temp file.
		}
		if err := os.Remove(tempFile.Name()); err != nil {
			rlog.Errorf("couldn't remove temp file: %s", err)
		}
	}()

	originalSize, err := io.Copy(tempFile, &contextReader{ctx: ctx, r: t.content})
	if err != nil {
		if ctxErr := classifyCtxErr(ctx); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &previewd.FetchError{Err: err}
	}
	metrics.ExtractOriginalSizes.Observe(float64(originalSize))
	rlog.Debugf("fetched %s of %q", misc.FormatFileSize(originalSize), t.sourcePath)

	img, err := e.extractFns[t.kind](ctx, tempFile.Name())
	if err != nil {
		if ctxErr := classifyCtxErr(ctx); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}

	bounds := img.Bounds()
	if bounds.Dx() > e.maxDimension || bounds.Dy() > e.maxDimension {
		img = imaging.Fit(img, e.maxDimension, e.maxDimension, imaging.Lanczos)
	}
	return img, nil
}

// classifyCtxErr tells a hit extraction deadline apart from a caller-driven
// cancel. It returns nil if the context is still alive.
func classifyCtxErr(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	if cause := context.Cause(ctx); errors.Is(cause, previewd.ErrExtractTimeout) {
		return previewd.ErrExtractTimeout
	}
	return ctx.Err()
}

func errCause(err error) string {
	var fetchErr *previewd.FetchError
	if errors.As(err, &fetchErr) {
		return "fetch"
	}
	return "decode"
}

// Shutdown drops all tasks in the queue and waits for ones that are in
// progress with respect of the passed context.
func (e *Extractor) Shutdown(ctx context.Context) error {
	e.stopped.Store(true)

	close(e.tasksCh)
	for t := range e.tasksCh {
		t.resultCh <- taskResult{err: errors.New("extractor stopped")}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.workersDoneCh:
		return nil
	}
}

// contextReader aborts a long copy from a reader that doesn't respect
// cancellation on its own.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *contextReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
