package storage

import (
	"fmt"
	"path"
	"strings"
)

// UnavailableError wraps any failure to write an object.
type UnavailableError struct {
	Key string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("store unavailable writing %s: %v", e.Key, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// OriginalKey is <ns>/<id>/original/<filename>. Only the base name of filename
// is used so a client supplied path can never escape the file's prefix.
func OriginalKey(namespace, fileID, filename string) string {
	return join(namespace, fileID, "original", baseName(filename))
}

// PreviewKey is <ns>/<id>/previews/page-<n>.<ext>.
func PreviewKey(namespace, fileID string, page int, ext string) string {
	return join(namespace, fileID, "previews", fmt.Sprintf("page-%d.%s", page, cleanExt(ext)))
}

// PreviewThumbKey is <ns>/<id>/previews/page-<n>-thumb.<ext>.
func PreviewThumbKey(namespace, fileID string, page int, ext string) string {
	return join(namespace, fileID, "previews", fmt.Sprintf("page-%d-thumb.%s", page, cleanExt(ext)))
}

// ThumbnailKey is the representative thumbnail of the whole file, <ns>/<id>/thumbnail.<ext>.
func ThumbnailKey(namespace, fileID, ext string) string {
	return join(namespace, fileID, "thumbnail."+cleanExt(ext))
}

func join(namespace string, parts ...string) string {
	ns := strings.Trim(namespace, "/")
	if ns == "" {
		return strings.Join(parts, "/")
	}
	return ns + "/" + strings.Join(parts, "/")
}

func baseName(filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == ".." {
		return "file"
	}
	return name
}

func cleanExt(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if ext == "" {
		return "bin"
	}
	return ext
}
