package previewd

import (
	"path"
	"strings"
)

// MediaKind describes what kind of preview should be extracted from a file.
type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaDocument MediaKind = "document-cover"
)

func (k MediaKind) MarshalText() (text []byte, err error) {
	return []byte(k), nil
}

func (k *MediaKind) UnmarshalText(text []byte) error {
	*k = MediaKind(text)

	return checkEnum(*k, MediaImage, MediaVideo, MediaDocument)
}

// ProtocolClass is a coarse classification of how expensive it is to read
// bytes from a source.
type ProtocolClass string

const (
	// ProtocolLANShare - file shares on the local network (smb, nfs).
	ProtocolLANShare ProtocolClass = "lan-share"
	// ProtocolWAN - remote protocol servers (sftp, ftp, webdav).
	ProtocolWAN ProtocolClass = "wan"
	// ProtocolCloud - cloud storage accessed via provider APIs (s3 and etc.).
	ProtocolCloud ProtocolClass = "cloud"
)

// QualityFlags are the display-affecting toggles a request was built with.
type QualityFlags struct {
	// AllowLargeDocumentThumbnails raises the size ceiling for document covers.
	AllowLargeDocumentThumbnails bool
}

// ThumbnailRequest is an immutable description of a single thumbnail attempt.
// A new request is constructed for every bind of a list item.
type ThumbnailRequest struct {
	SourcePath     string
	Protocol       ProtocolClass
	FileSize       int64
	Kind           MediaKind
	CredentialsRef string
	Flags          QualityFlags
	// Generation is bumped when display-affecting settings change to force
	// a fresh thumbnail for an unchanged file.
	Generation int
}

// ThumbnailKey is the identity of a thumbnail. Two keys are the same identity
// iff all fields are equal, so a generation bump alone produces a new identity.
type ThumbnailKey struct {
	SourcePath     string
	FileSize       int64
	CredentialsRef string
	Flags          QualityFlags
	Generation     int
}

func (r ThumbnailRequest) Key() ThumbnailKey {
	return ThumbnailKey{
		SourcePath:     r.SourcePath,
		FileSize:       r.FileSize,
		CredentialsRef: r.CredentialsRef,
		Flags:          r.Flags,
		Generation:     r.Generation,
	}
}

// FileExt returns the extension of the last path element in lower case with
// the leading dot (".mp4").
func FileExt(filepath string) string {
	return strings.ToLower(path.Ext(filepath))
}

var (
	imageExts = map[string]bool{
		".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
		".webp": true, ".heic": true, ".avif": true, ".bmp": true, ".tiff": true,
	}
	videoExts = map[string]bool{
		".mp4": true, ".mkv": true, ".mov": true, ".avi": true,
		".webm": true, ".m4v": true, ".mpg": true, ".mpeg": true, ".wmv": true,
	}
	documentExts = map[string]bool{
		".pdf": true, ".xps": true,
	}
	ebookExts = map[string]bool{
		".epub": true, ".mobi": true, ".azw": true, ".azw3": true, ".fb2": true,
	}
)

// KindForPath detects the media kind of a file by its extension. The second
// return value is false for files no preview can be extracted from.
func KindForPath(filepath string) (MediaKind, bool) {
	ext := FileExt(filepath)
	switch {
	case imageExts[ext]:
		return MediaImage, true
	case videoExts[ext]:
		return MediaVideo, true
	case documentExts[ext] || ebookExts[ext]:
		return MediaDocument, true
	default:
		return "", false
	}
}

// IsEbookPath reports whether a file is an e-book rather than a plain document.
func IsEbookPath(filepath string) bool {
	return ebookExts[FileExt(filepath)]
}
