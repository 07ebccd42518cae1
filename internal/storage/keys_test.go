package storage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeys(t *testing.T) {
	const id = "7f1c2d8e-0000-4000-8000-000000000001"

	assert.Equal(t, "presentations/"+id+"/original/Q3 Review.pptx", OriginalKey("presentations", id, "Q3 Review.pptx"))
	assert.Equal(t, "presentations/"+id+"/previews/page-3.jpg", PreviewKey("presentations/", id, 3, ".JPG"))
	assert.Equal(t, "presentations/"+id+"/previews/page-12-thumb.png", PreviewThumbKey("presentations", id, 12, "png"))
	assert.Equal(t, "presentations/"+id+"/thumbnail.jpg", ThumbnailKey("presentations", id, "jpg"))
	assert.Equal(t, id+"/thumbnail.bin", ThumbnailKey("", id, ""))
}

func TestOriginalKey_StripsDirectories(t *testing.T) {
	assert.Equal(t, "ns/id/original/deck.pptx", OriginalKey("ns", "id", "../../etc/deck.pptx"))
	assert.Equal(t, "ns/id/original/deck.ppt", OriginalKey("ns", "id", `C:\Users\me\deck.ppt`))
	assert.Equal(t, "ns/id/original/file", OriginalKey("ns", "id", ".."))
}

func TestUnavailableError(t *testing.T) {
	cause := errors.New("connection reset")
	err := error(&UnavailableError{Key: "k", Err: cause})
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "k")
}
