package extract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os/exec"

	"github.com/disintegration/imaging"

	"github.com/previewd/previewd/pkg/rlog"
	"github.com/previewd/previewd/previewd"
)

// decodeImage handles the image kind: the original file already is a bitmap.
func decodeImage(_ context.Context, originalFile string) (image.Image, error) {
	img, err := imaging.Open(originalFile, imaging.AutoOrientation(true))
	if err != nil {
		return nil, &previewd.DecodeError{Err: err}
	}
	return img, nil
}

// extractVideoFrame grabs the frame at the 1-second mark. Very short clips
// have no such frame, for them the first frame is used.
func extractVideoFrame(ctx context.Context, originalFile string) (image.Image, error) {
	img, err := ffmpegFrame(ctx, originalFile, "1")
	if err == nil {
		return img, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}

	return ffmpegFrame(ctx, originalFile, "0")
}

// ffmpegFrame decodes a single frame at the passed offset in seconds. On ctx
// cancellation the ffmpeg process is killed.
func ffmpegFrame(ctx context.Context, file, offset string) (image.Image, error) {
	//nolint:gosec
	cmd := exec.CommandContext(ctx,
		"ffmpeg",
		"-hide_banner",
		"-loglevel", "error",
		"-ss", offset,
		"-i", file,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"pipe:1",
	)
	stdout := bytes.NewBuffer(nil)
	stderr := bytes.NewBuffer(nil)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		return nil, &previewd.DecodeError{
			Err: fmt.Errorf("ffmpeg failed: %w, stderr: %q", err, stderr.String()),
		}
	}
	if stdout.Len() == 0 {
		return nil, &previewd.DecodeError{
			Err: fmt.Errorf("no frame at offset %ss", offset),
		}
	}
	if stderr.Len() > 0 {
		rlog.Infof("ffmpeg stderr for %q: %q", file, stderr.String())
	}

	img, err := imaging.Decode(bytes.NewReader(stdout.Bytes()))
	if err != nil {
		return nil, &previewd.DecodeError{Err: fmt.Errorf("couldn't decode frame: %w", err)}
	}
	return img, nil
}

// renderDocumentCover renders the first page of a document or an e-book at a
// fixed resolution with "mutool draw". MuPDF detects the format by content,
// so pdf, xps, epub and fb2 all go through the same path.
func renderDocumentCover(ctx context.Context, originalFile string) (image.Image, error) {
	//nolint:gosec
	cmd := exec.CommandContext(ctx,
		"mutool",
		"draw",
		"-F", "png",
		"-w", "1024",
		"-o", "-",
		originalFile,
		"1", // first page only
	)
	stdout := bytes.NewBuffer(nil)
	stderr := bytes.NewBuffer(nil)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		return nil, &previewd.DecodeError{
			Err: fmt.Errorf("mutool failed: %w, stderr: %q", err, stderr.String()),
		}
	}

	img, err := imaging.Decode(bytes.NewReader(stdout.Bytes()))
	if err != nil {
		return nil, &previewd.DecodeError{Err: fmt.Errorf("couldn't decode page: %w", err)}
	}
	return img, nil
}
