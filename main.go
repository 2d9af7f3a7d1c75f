package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/previewd/previewd/cmd"
	"github.com/previewd/previewd/pkg/rlog"
	"github.com/previewd/previewd/previewd"
)

func main() {
	cfg, err := previewd.ParseConfig()
	if err != nil {
		rlog.Errorf("invalid config: %s", err)
		os.Exit(1)
	}

	cfg.BuildInfo.Print()
	cfg.Print()

	rlog.SetLevel(cfg.LogLevel)

	service := cmd.NewPreviewd(cfg)

	// Always shutdown the service to not keep any external commands running
	// (for example, ffmpeg).
	var (
		exitCode      int
		startFinished <-chan struct{}
	)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		rlog.Info("shutdown")
		if err := service.Shutdown(ctx); err != nil {
			rlog.Error(err)
		}

		if startFinished != nil {
			<-startFinished
		}

		os.Exit(exitCode)
	}()

	if err := service.Prepare(); err != nil {
		rlog.Error(err)
		exitCode = 1
		return
	}

	termCtx, termCtxCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	startFinished = service.Start(func() {
		exitCode = 1
		termCtxCancel()
	})

	<-termCtx.Done()
}
