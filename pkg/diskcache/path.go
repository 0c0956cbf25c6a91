package diskcache

import (
	"path/filepath"

	"github.com/marmos91/imagecache/pkg/cachekey"
)

// metaDirName is the reserved subtree for non-content blobs (bloom
// checkpoints and similar), rooted at {root}/__meta/.
const metaDirName = "__meta"

// tmpSuffix is appended to the temp file used for the write-then-rename
// pattern in TryWriteFile.
const tmpSuffix = ".tmp"

// pathBuilder renders the two-level hash fan-out layout described in §6:
// {root}/{first-4-hex}/{32-source-hex}/{32-variant-hex}[.ext].
type pathBuilder struct {
	root      string
	extension string
}

func newPathBuilder(root, extension string) *pathBuilder {
	return &pathBuilder{root: root, extension: extension}
}

// physicalPath returns the absolute on-disk path for key's content file.
func (b *pathBuilder) physicalPath(key cachekey.Key) string {
	rel := b.relativePath(key)
	return filepath.Join(b.root, rel)
}

// relativePath returns key's path relative to root, matching
// cachekey.Key.ToStoragePath with an optional extension appended.
func (b *pathBuilder) relativePath(key cachekey.Key) string {
	rel := key.ToStoragePath()
	if b.extension != "" {
		rel += "." + b.extension
	}
	return filepath.FromSlash(rel)
}

// tempPath returns the path TryWriteFile stages content at before the
// atomic rename into place.
func (b *pathBuilder) tempPath(key cachekey.Key) string {
	return b.physicalPath(key) + tmpSuffix
}

// metaPath returns the absolute path for a reserved meta key (e.g.
// "bloom/v1").
func (b *pathBuilder) metaPath(metaKey string) string {
	return filepath.Join(b.root, metaDirName, filepath.FromSlash(metaKey))
}
