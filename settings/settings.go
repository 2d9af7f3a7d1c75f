// Package settings loads the user-controlled toggles from a yaml file and
// keeps them fresh: the file is watched, and edits apply without a restart.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/previewd/previewd/pkg/rlog"
	"github.com/previewd/previewd/previewd"
)

type fileContent struct {
	ShowVideoThumbnails     bool `yaml:"show_video_thumbnails"`
	LargeDocumentThumbnails bool `yaml:"large_document_thumbnails"`
	// ThumbnailGeneration is bumped by the user to invalidate all cached
	// thumbnails at once.
	ThumbnailGeneration int `yaml:"thumbnail_generation"`

	Credentials map[string]previewd.Credentials `yaml:"credentials"`
}

// Service implements [previewd.Settings] and [previewd.CredentialsResolver]
// on top of a single yaml file. Reads return a consistent snapshot, reloads
// swap the whole content at once.
type Service struct {
	filepath string
	watcher  *fsnotify.Watcher

	mu      sync.RWMutex
	content fileContent

	watcherDone chan struct{}
}

// NewService loads the settings file and starts watching it for changes.
// A missing file is not an error: defaults apply until the file appears.
func NewService(path string) (*Service, error) {
	s := &Service{
		filepath:    filepath.Clean(path),
		watcherDone: make(chan struct{}),
	}

	switch content, err := readFile(s.filepath); {
	case err == nil:
		s.content = content
	case errors.Is(err, os.ErrNotExist):
		rlog.Infof("settings file %q doesn't exist, use defaults", s.filepath)
	default:
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("couldn't create settings watcher: %w", err)
	}
	// Watch the directory, not the file: editors replace the file on save,
	// and a watch on the old inode would go stale.
	if err := watcher.Add(filepath.Dir(s.filepath)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("couldn't watch settings dir: %w", err)
	}
	s.watcher = watcher

	go s.watchForChanges()

	return s, nil
}

func readFile(path string) (fileContent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fileContent{}, fmt.Errorf("couldn't read settings file: %w", err)
	}

	var content fileContent
	if err := yaml.Unmarshal(data, &content); err != nil {
		return fileContent{}, fmt.Errorf("couldn't unmarshal settings file: %w", err)
	}
	return content, nil
}

func (s *Service) watchForChanges() {
	defer close(s.watcherDone)

	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != s.filepath {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			s.reload()

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			rlog.Errorf("settings watcher error: %s", err)
		}
	}
}

func (s *Service) reload() {
	content, err := readFile(s.filepath)
	if err != nil {
		// Keep the last good snapshot. Half-written files on save are
		// common, the next event will pick up the final content.
		rlog.Warnf("couldn't reload settings: %s", err)
		return
	}

	s.mu.Lock()
	old := s.content
	s.content = content
	s.mu.Unlock()

	if old.ThumbnailGeneration != content.ThumbnailGeneration {
		rlog.Infof("thumbnail generation changed: %d -> %d", old.ThumbnailGeneration, content.ThumbnailGeneration)
	} else {
		rlog.Debugf("settings reloaded from %q", s.filepath)
	}
}

// Shutdown stops the file watcher.
func (s *Service) Shutdown() error {
	err := s.watcher.Close()
	<-s.watcherDone
	return err
}

func (s *Service) ShowVideoThumbnails() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.content.ShowVideoThumbnails
}

func (s *Service) AllowLargeDocumentThumbnails() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.content.LargeDocumentThumbnails
}

func (s *Service) Generation() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.content.ThumbnailGeneration
}

// Resolve implements [previewd.CredentialsResolver]. The returned value is a
// copy, callers can't mutate the stored credentials.
func (s *Service) Resolve(credentialsRef string) (previewd.Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	creds, ok := s.content.Credentials[credentialsRef]
	if !ok {
		return previewd.Credentials{}, fmt.Errorf("unknown credentials ref %q", credentialsRef)
	}
	return creds, nil
}

// ClassifyProtocol maps a source path to its protocol class by url scheme.
// Unknown schemes count as wan: the conservative document size ceilings
// apply.
func (s *Service) ClassifyProtocol(path string) previewd.ProtocolClass {
	scheme, _, ok := strings.Cut(path, "://")
	if !ok {
		return previewd.ProtocolLANShare
	}

	switch strings.ToLower(scheme) {
	case "smb", "cifs", "nfs":
		return previewd.ProtocolLANShare
	case "s3", "gdrive", "dropbox", "onedrive":
		return previewd.ProtocolCloud
	default:
		return previewd.ProtocolWAN
	}
}
