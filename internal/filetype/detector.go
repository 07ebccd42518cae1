package filetype

import (
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

const (
	MIMEPPTX = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	MIMEPPT  = "application/vnd.ms-powerpoint"
)

// MismatchError means the bytes do not match the declared extension.
type MismatchError struct {
	Extension string
	Detected  string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("content detected as %s does not match .%s", e.Detected, e.Extension)
}

// Info contains detected file type information
type Info struct {
	MIMEType  string
	Extension string
}

// DetectPresentation checks that data is the container format ext implies:
// a zip package for pptx and an OLE compound file for ppt. The returned MIME
// type is the presentation type for ext.
func DetectPresentation(data []byte, ext string) (Info, error) {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	mtype := mimetype.Detect(data)
	log.Debug().Str("mime", mtype.String()).Str("ext", ext).Msg("detected file type")

	switch ext {
	case "pptx":
		// OOXML is a zip package; mimetype only names it pptx when the
		// ppt/ entries come early, so accept any zip descendant.
		if isA(mtype, "application/zip") {
			return Info{MIMEType: MIMEPPTX, Extension: "pptx"}, nil
		}
	case "ppt":
		if isA(mtype, "application/x-ole-storage") {
			return Info{MIMEType: MIMEPPT, Extension: "ppt"}, nil
		}
	default:
		return Info{}, fmt.Errorf("unsupported extension .%s", ext)
	}
	return Info{}, &MismatchError{Extension: ext, Detected: mtype.String()}
}

// DetectImage returns the extension (without dot) and content type of an image.
func DetectImage(data []byte) (string, string, error) {
	mtype := mimetype.Detect(data)
	if !strings.HasPrefix(mtype.String(), "image/") {
		return "", "", fmt.Errorf("not an image: %s", mtype.String())
	}
	return strings.TrimPrefix(mtype.Extension(), "."), mtype.String(), nil
}

// isA walks the parent chain so a pptx or docx still counts as a zip.
func isA(m *mimetype.MIME, mime string) bool {
	for ; m != nil; m = m.Parent() {
		if m.Is(mime) {
			return true
		}
	}
	return false
}
