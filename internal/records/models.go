package records

import "time"

// File is a persisted presentation row.
type File struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Slug         string    `json:"slug"`
	Description  string    `json:"description"`
	Category     string    `json:"category"`
	Subcategory  string    `json:"subcategory"`
	Tags         []string  `json:"tags"`
	FileName     string    `json:"fileName"`
	FileSize     int64     `json:"fileSize"`
	FileType     string    `json:"fileType"`
	PageCount    int       `json:"pageCount"`
	FileKey      string    `json:"r2FileKey,omitempty"`
	ThumbnailKey string    `json:"thumbnailKey,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// NewFile holds the attributes known before any asset is stored.
type NewFile struct {
	Title       string
	Slug        string
	Description string
	Category    string
	Subcategory string
	Tags        []string
	FileName    string
	FileSize    int64
	FileType    string
	PageCount   int
	CreatedAt   time.Time
}

// FilePatch attaches storage keys once the original and thumbnail are stored.
type FilePatch struct {
	FileKey      string
	ThumbnailKey string
}

// Preview is one page of a file.
type Preview struct {
	FileID       string `json:"fileId"`
	PageNumber   int    `json:"pageNumber"`
	PreviewKey   string `json:"previewKey"`
	ThumbnailKey string `json:"thumbnailKey"`
}
