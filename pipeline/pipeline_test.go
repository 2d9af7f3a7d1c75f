package pipeline

import (
	"context"
	"errors"
	"image"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"

	"github.com/previewd/previewd/cache"
	"github.com/previewd/previewd/memo"
	"github.com/previewd/previewd/policy"
	"github.com/previewd/previewd/previewd"
	"github.com/previewd/previewd/throttle"
)

type fakeSettings struct {
	showVideo bool
}

func (s fakeSettings) ShowVideoThumbnails() bool          { return s.showVideo }
func (s fakeSettings) AllowLargeDocumentThumbnails() bool { return false }
func (s fakeSettings) Generation() int                    { return 1 }
func (s fakeSettings) ClassifyProtocol(string) previewd.ProtocolClass {
	return previewd.ProtocolLANShare
}

type fakeSource struct {
	openCount atomic.Int64
	err       error
}

func (s *fakeSource) OpenFile(ctx context.Context, path, credentialsRef string) (io.ReadCloser, int64, error) {
	s.openCount.Add(1)
	if s.err != nil {
		return nil, 0, s.err
	}
	return io.NopCloser(strings.NewReader("remote-content-" + path)), 0, nil
}

type fakeExtractor struct {
	fn func(ctx context.Context) (image.Image, error)
}

func (e *fakeExtractor) Extract(ctx context.Context, _ previewd.MediaKind, _ string, content io.Reader) (image.Image, error) {
	if _, err := io.Copy(io.Discard, content); err != nil {
		return nil, &previewd.FetchError{Err: err}
	}
	if e.fn != nil {
		return e.fn(ctx)
	}
	return imaging.New(8, 8, image.Transparent.C), nil
}

type env struct {
	pipeline  *Pipeline
	source    *fakeSource
	extractor *fakeExtractor
	failures  *memo.FailureMemo
	throttle  *throttle.ConnThrottle
}

func newEnv(t *testing.T, throttleLimit int) *env {
	t.Helper()

	diskCache, err := cache.NewDiskCache(t.TempDir(), cache.Options{})
	require.NoError(t, err)

	e := &env{
		source:    &fakeSource{},
		extractor: &fakeExtractor{},
		failures:  memo.NewFailureMemo(),
		throttle:  throttle.NewConnThrottle(throttleLimit),
	}
	e.pipeline = NewPipeline(
		policy.NewGate(fakeSettings{showVideo: true}),
		e.failures, e.throttle, diskCache, e.source, e.extractor,
	)
	return e
}

func newRequest(path string, kind previewd.MediaKind) previewd.ThumbnailRequest {
	return previewd.ThumbnailRequest{
		SourcePath: path,
		Protocol:   previewd.ProtocolLANShare,
		FileSize:   2 << 20,
		Kind:       kind,
		Generation: 1,
	}
}

// requireSlotFree checks that no throttle slot leaked: with all slots free
// an acquire returns immediately.
func requireSlotFree(t *testing.T, e *env, limit int) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var tokens []*throttle.Token
	for range limit {
		token, err := e.throttle.Acquire(ctx)
		require.NoError(t, err, "a throttle slot leaked")
		tokens = append(tokens, token)
	}
	for _, token := range tokens {
		token.Release()
	}
}

func TestPipeline_Denied(t *testing.T) {
	t.Parallel()

	r := require.New(t)

	e := newEnv(t, 1)

	// 60 MiB document over a wan protocol, large mode off: the ceiling is
	// 1 MiB, so the request is denied before any network activity.
	req := newRequest("sftp://server/huge.pdf", previewd.MediaDocument)
	req.Protocol = previewd.ProtocolWAN
	req.FileSize = 60 << 20

	res := e.pipeline.Run(context.Background(), req)

	r.Equal(StatusDenied, res.Status)
	r.NotEmpty(res.Reason)
	r.Nil(res.Thumbnail)
	r.EqualValues(0, e.source.openCount.Load(), "a denied request must not fetch")
	requireSlotFree(t, e, 1)
}

func TestPipeline_DecodedAndCached(t *testing.T) {
	t.Parallel()

	r := require.New(t)

	e := newEnv(t, 1)

	// 2 MiB document over a lan share fits under the 3 MiB ceiling.
	req := newRequest("smb://nas/report.pdf", previewd.MediaDocument)

	res := e.pipeline.Run(context.Background(), req)
	r.Equal(StatusDecoded, res.Status)
	r.NotNil(res.Thumbnail)

	data, err := io.ReadAll(res.Thumbnail)
	r.NoError(err)
	r.NotEmpty(data)
	r.NoError(res.Thumbnail.Close())
	r.EqualValues(1, e.source.openCount.Load())

	// An identical request short-circuits via the disk cache.
	res = e.pipeline.Run(context.Background(), req)
	r.Equal(StatusDecoded, res.Status)
	r.NoError(res.Thumbnail.Close())
	r.EqualValues(1, e.source.openCount.Load(), "a cache hit must not fetch")

	// A generation bump forces a fresh run.
	req.Generation++
	res = e.pipeline.Run(context.Background(), req)
	r.Equal(StatusDecoded, res.Status)
	r.NoError(res.Thumbnail.Close())
	r.EqualValues(2, e.source.openCount.Load())

	requireSlotFree(t, e, 1)
}

func TestPipeline_FailureIsMemoized(t *testing.T) {
	t.Parallel()

	r := require.New(t)

	e := newEnv(t, 1)

	// Emulate a video extraction on a link so slow it hits the deadline.
	e.extractor.fn = func(context.Context) (image.Image, error) {
		return nil, previewd.ErrExtractTimeout
	}

	req := newRequest("smb://nas/movie.mkv", previewd.MediaVideo)

	res := e.pipeline.Run(context.Background(), req)
	r.Equal(StatusFailed, res.Status)
	r.EqualValues(1, e.source.openCount.Load())
	r.True(e.failures.IsKnownBad(req.SourcePath, memo.KindVideoFrame))

	// An identical request fails immediately with zero network activity.
	res = e.pipeline.Run(context.Background(), req)
	r.Equal(StatusFailed, res.Status)
	r.EqualValues(1, e.source.openCount.Load(), "a memoized failure must not fetch")

	// Failure kinds are independent: the path is video-failed only.
	r.False(e.failures.IsKnownBad(req.SourcePath, memo.KindThumbnail))

	requireSlotFree(t, e, 1)
}

func TestPipeline_FetchErrorIsMemoized(t *testing.T) {
	t.Parallel()

	r := require.New(t)

	e := newEnv(t, 1)
	e.source.err = errors.New("connection reset")

	req := newRequest("ftp://server/1.jpg", previewd.MediaImage)

	res := e.pipeline.Run(context.Background(), req)
	r.Equal(StatusFailed, res.Status)

	// A transient network blip and a corrupt file are indistinguishable:
	// both stay failed until restart.
	r.True(e.failures.IsKnownBad(req.SourcePath, memo.KindThumbnail))
	requireSlotFree(t, e, 1)
}

func TestPipeline_CancelDoesNotPoisonMemo(t *testing.T) {
	t.Parallel()

	r := require.New(t)

	e := newEnv(t, 1)

	extracting := make(chan struct{})
	e.extractor.fn = func(ctx context.Context) (image.Image, error) {
		close(extracting)
		<-ctx.Done()
		return nil, ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-extracting
		cancel()
	}()

	req := newRequest("smb://nas/movie.mkv", previewd.MediaVideo)

	res := e.pipeline.Run(ctx, req)
	r.Equal(StatusCancelled, res.Status)

	// Cancellation reflects the caller, not the content.
	r.False(e.failures.IsKnownBad(req.SourcePath, memo.KindVideoFrame))

	// The throttle slot was released on the cancellation path.
	requireSlotFree(t, e, 1)
}

func TestPipeline_CancelWhileWaitingForSlot(t *testing.T) {
	t.Parallel()

	r := require.New(t)

	e := newEnv(t, 1)

	// Occupy the only slot.
	token, err := e.throttle.Acquire(context.Background())
	r.NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	res := e.pipeline.Run(ctx, newRequest("smb://nas/1.jpg", previewd.MediaImage))
	r.Equal(StatusCancelled, res.Status)
	r.EqualValues(0, e.source.openCount.Load())

	token.Release()
	requireSlotFree(t, e, 1)
}

// TestPipeline_NoCoalescing documents the current behavior: two overlapping
// requests for the same key don't share work - each acquires its own slot
// and fetches independently.
func TestPipeline_NoCoalescing(t *testing.T) {
	t.Parallel()

	r := require.New(t)

	e := newEnv(t, 2)

	var entered sync.WaitGroup
	entered.Add(2)
	proceed := make(chan struct{})
	e.extractor.fn = func(context.Context) (image.Image, error) {
		entered.Done()
		<-proceed
		return imaging.New(8, 8, image.Transparent.C), nil
	}

	req := newRequest("smb://nas/1.jpg", previewd.MediaImage)

	results := make(chan Result, 2)
	for i := 0; i < 2; i++ {
		go func() {
			results <- e.pipeline.Run(context.Background(), req)
		}()
	}

	// Both runs got past the cache check and fetched before either could
	// write its result.
	entered.Wait()
	r.EqualValues(2, e.source.openCount.Load())
	close(proceed)

	for i := 0; i < 2; i++ {
		res := <-results
		r.Equal(StatusDecoded, res.Status)
		r.NoError(res.Thumbnail.Close())
	}

	requireSlotFree(t, e, 2)
}
