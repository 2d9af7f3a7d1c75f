package previewd

// Settings exposes the user-controlled toggles consumed by the policy gate
// and the generation counter used for cache busting.
type Settings interface {
	// ShowVideoThumbnails reports whether video previews are enabled at all.
	ShowVideoThumbnails() bool
	// AllowLargeDocumentThumbnails raises the document cover size ceilings.
	AllowLargeDocumentThumbnails() bool
	// Generation returns the current thumbnail generation. It changes when
	// display-affecting settings change.
	Generation() int
	// ClassifyProtocol maps a source path to its protocol class.
	ClassifyProtocol(path string) ProtocolClass
}
