// Package web exposes the thumbnail pipeline over http.
package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/previewd/previewd/pipeline"
	"github.com/previewd/previewd/pkg/rlog"
	"github.com/previewd/previewd/previewd"
)

// Pipeline runs one thumbnail request to its terminal state.
type Pipeline interface {
	Run(ctx context.Context, req previewd.ThumbnailRequest) pipeline.Result
}

type Server struct {
	httpServer *http.Server

	pipeline Pipeline
	settings previewd.Settings
}

func NewServer(port int, pipeline Pipeline, settings previewd.Settings) (s *Server) {
	s = &Server{
		pipeline: pipeline,
		settings: settings,
	}

	mux := http.NewServeMux()

	// API
	mux.HandleFunc("/api/thumbnail", s.handleThumbnail)

	// Debug
	mux.Handle("/debug/metrics", promhttp.Handler())

	handler := loggingMiddleware(mux)

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Start() error {
	rlog.Infof("start web server on %q", s.httpServer.Addr)

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	req, err := s.requestFromQuery(r)
	if err != nil {
		writeBadRequestError(w, "%s", err)
		return
	}

	res := s.pipeline.Run(r.Context(), req)
	switch res.Status {
	case pipeline.StatusDecoded:
		defer res.Thumbnail.Close()

		w.Header().Set("Content-Type", "image/webp")
		copyResponse(w, res.Thumbnail)

	case pipeline.StatusDenied:
		writeError(w, http.StatusForbidden, "thumbnail denied: %s", res.Reason)

	case pipeline.StatusFailed:
		writeError(w, http.StatusBadGateway, "couldn't generate thumbnail: %s", res.Reason)

	case pipeline.StatusCancelled:
		// The client is gone, nobody will read the response.
		rlog.Debugf("thumbnail request for %q cancelled by client", req.SourcePath)
	}
}

// requestFromQuery builds a pipeline request from the query params and the
// current settings snapshot.
func (s *Server) requestFromQuery(r *http.Request) (previewd.ThumbnailRequest, error) {
	query := r.URL.Query()

	path := query.Get("path")
	if path == "" {
		return previewd.ThumbnailRequest{}, errors.New(`"path" is required`)
	}

	size, err := strconv.ParseInt(query.Get("size"), 10, 64)
	if err != nil || size < 0 {
		return previewd.ThumbnailRequest{}, fmt.Errorf(`invalid "size" %q`, query.Get("size"))
	}

	kind, ok := previewd.KindForPath(path)
	if !ok {
		return previewd.ThumbnailRequest{}, fmt.Errorf("unsupported file type %q", previewd.FileExt(path))
	}

	return previewd.ThumbnailRequest{
		SourcePath:     path,
		Protocol:       s.settings.ClassifyProtocol(path),
		FileSize:       size,
		Kind:           kind,
		CredentialsRef: query.Get("creds"),
		Flags: previewd.QualityFlags{
			AllowLargeDocumentThumbnails: s.settings.AllowLargeDocumentThumbnails(),
		},
		Generation: s.settings.Generation(),
	}, nil
}

func copyResponse(w http.ResponseWriter, src io.Reader) {
	if _, err := io.Copy(w, src); err != nil {
		rlog.Errorf("couldn't write response: %s", err)
	}
}

func writeBadRequestError(w http.ResponseWriter, format string, a ...any) {
	writeError(w, http.StatusBadRequest, format, a...)
}

func writeError(w http.ResponseWriter, code int, format string, a ...any) {
	http.Error(w, fmt.Sprintf(format, a...), code)
}
