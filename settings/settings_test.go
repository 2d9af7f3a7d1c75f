package settings

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/previewd/previewd/previewd"
)

func TestService(t *testing.T) {
	t.Parallel()

	r := require.New(t)

	path := filepath.Join(t.TempDir(), "settings.yml")
	err := os.WriteFile(path, []byte(`
show_video_thumbnails: true
thumbnail_generation: 3
credentials:
  team-bucket:
    endpoint: https://s3.example.com
    region: eu-west-1
    access_key_id: AKIA123
    secret_access_key: topsecret
`), 0o600)
	r.NoError(err)

	s, err := NewService(path)
	r.NoError(err)
	t.Cleanup(func() {
		r.NoError(s.Shutdown())
	})

	r.True(s.ShowVideoThumbnails())
	r.False(s.AllowLargeDocumentThumbnails())
	r.Equal(3, s.Generation())

	creds, err := s.Resolve("team-bucket")
	r.NoError(err)
	r.Equal(previewd.Credentials{
		Endpoint:        "https://s3.example.com",
		Region:          "eu-west-1",
		AccessKeyID:     "AKIA123",
		SecretAccessKey: "topsecret",
	}, creds)

	_, err = s.Resolve("unknown")
	r.Error(err)
}

func TestService_Reload(t *testing.T) {
	t.Parallel()

	r := require.New(t)

	path := filepath.Join(t.TempDir(), "settings.yml")
	r.NoError(os.WriteFile(path, []byte("thumbnail_generation: 1\n"), 0o600))

	s, err := NewService(path)
	r.NoError(err)
	t.Cleanup(func() {
		r.NoError(s.Shutdown())
	})

	r.Equal(1, s.Generation())
	r.False(s.ShowVideoThumbnails())

	err = os.WriteFile(path, []byte("thumbnail_generation: 2\nshow_video_thumbnails: true\n"), 0o600)
	r.NoError(err)

	r.Eventually(
		func() bool { return s.Generation() == 2 && s.ShowVideoThumbnails() },
		5*time.Second, 10*time.Millisecond,
	)
}

func TestService_MissingFile(t *testing.T) {
	t.Parallel()

	r := require.New(t)

	path := filepath.Join(t.TempDir(), "settings.yml")

	s, err := NewService(path)
	r.NoError(err)
	t.Cleanup(func() {
		r.NoError(s.Shutdown())
	})

	// Defaults until the file appears.
	r.Equal(0, s.Generation())
	r.False(s.ShowVideoThumbnails())
	r.False(s.AllowLargeDocumentThumbnails())

	r.NoError(os.WriteFile(path, []byte("large_document_thumbnails: true\n"), 0o600))

	r.Eventually(s.AllowLargeDocumentThumbnails, 5*time.Second, 10*time.Millisecond)
}

func TestService_ClassifyProtocol(t *testing.T) {
	t.Parallel()

	var s Service

	for path, want := range map[string]previewd.ProtocolClass{
		"smb://nas/movies/1.mkv":     previewd.ProtocolLANShare,
		"nfs://nas/1.jpg":            previewd.ProtocolLANShare,
		"cifs://nas/1.jpg":           previewd.ProtocolLANShare,
		"/mnt/share/1.jpg":           previewd.ProtocolLANShare,
		"sftp://server/1.pdf":        previewd.ProtocolWAN,
		"ftp://server/1.pdf":         previewd.ProtocolWAN,
		"webdav://server/1.pdf":      previewd.ProtocolWAN,
		"s3://bucket/key/1.jpg":      previewd.ProtocolCloud,
		"gdrive://root/docs/1.epub":  previewd.ProtocolCloud,
		"dropbox://home/1.png":       previewd.ProtocolCloud,
		"onedrive://personal/1.heic": previewd.ProtocolCloud,
	} {
		require.Equal(t, want, s.ClassifyProtocol(path), "path: %q", path)
	}
}
