package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"

	"github.com/previewd/previewd/cache"
	"github.com/previewd/previewd/extract"
	"github.com/previewd/previewd/memo"
	"github.com/previewd/previewd/pipeline"
	"github.com/previewd/previewd/pkg/rlog"
	"github.com/previewd/previewd/policy"
	"github.com/previewd/previewd/previewd"
	"github.com/previewd/previewd/remote"
	"github.com/previewd/previewd/settings"
	"github.com/previewd/previewd/throttle"
	"github.com/previewd/previewd/web"
)

type Previewd struct {
	cfg previewd.Config

	settingsService *settings.Service
	thumbnailCache  *cache.DiskCache
	extractor       *extract.Extractor

	server *web.Server
}

func NewPreviewd(cfg previewd.Config) *Previewd {
	return &Previewd{
		cfg: cfg,
	}
}

func (p *Previewd) Prepare() (err error) {
	if err := os.MkdirAll(p.cfg.Dir, 0700); err != nil {
		return fmt.Errorf("couldn't create app data dir %q: %w", p.cfg.Dir, err)
	}

	if err := extract.CheckDeps(); err != nil {
		return err
	}

	// Settings
	p.settingsService, err = settings.NewService(p.cfg.SettingsFile)
	if err != nil {
		return fmt.Errorf("couldn't prepare settings service: %w", err)
	}

	// Thumbnail Cache
	p.thumbnailCache, err = cache.NewDiskCache(
		filepath.Join(p.cfg.Dir, "thumbnails"), cache.Options{
			MaxFileAge:   p.cfg.ThumbnailsMaxAge,
			MaxTotalSize: p.cfg.ThumbnailsMaxTotalSize.Bytes(),
		},
	)
	if err != nil {
		return fmt.Errorf("couldn't prepare disk cache for thumbnails: %w", err)
	}

	// Extractor
	p.extractor = extract.NewExtractor(
		p.cfg.ExtractWorkersCount, p.cfg.ExtractTimeout, p.cfg.ThumbnailMaxSize,
	)

	// Pipeline
	thumbnailPipeline := pipeline.NewPipeline(
		policy.NewGate(p.settingsService),
		memo.NewFailureMemo(),
		throttle.NewConnThrottle(p.cfg.FetchConcurrency),
		p.thumbnailCache,
		remote.NewS3Source(p.settingsService),
		p.extractor,
	)

	// Web Server
	p.server = web.NewServer(p.cfg.ServerPort, thumbnailPipeline, p.settingsService)

	return nil
}

func (p *Previewd) Start(onError func()) <-chan struct{} {
	done := make(chan struct{})

	go func() {
		if err := p.server.Start(); err != nil {
			rlog.Errorf("web server error: %s", err)
			onError()
		}
		close(done)
	}()

	return done
}

// Shutdown shutdowns all components. It is safe to call this method even if
// Prepare has failed.
func (p *Previewd) Shutdown(ctx context.Context) error {
	var failed int
	for _, v := range []struct {
		name string
		s    shutdowner
	}{
		{"web server", p.server},
		{"extractor", p.extractor},
		{"thumbnail cache", p.thumbnailCache},
		{"settings service", shutdownerFunc(func(context.Context) error {
			if p.settingsService == nil {
				return nil
			}
			return p.settingsService.Shutdown()
		})},
	} {
		if err := safeShutdown(ctx, v.s); err != nil {
			failed++
			rlog.Errorf("couldn't gracefully shutdown %s: %s", v.name, err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("couldn't gracefully shutdown %d component(s), see logs for more info", failed)
	}
	return nil
}

type shutdowner interface {
	Shutdown(context.Context) error
}

type shutdownerFunc func(context.Context) error

func (f shutdownerFunc) Shutdown(ctx context.Context) error { return f(ctx) }

// safeShutdown calls Shutdown method only on initialized components.
func safeShutdown(ctx context.Context, s shutdowner) error {
	v := reflect.ValueOf(s)
	if !v.IsValid() || v.IsNil() {
		return nil
	}
	return s.Shutdown(ctx)
}
