package models

// BlobStatus tracks the upload state of a single blob
type BlobStatus string

const (
	// BlobStatusSaving marks a blob whose bytes are still in flight
	BlobStatusSaving BlobStatus = "saving"

	// BlobStatusActive marks a fully uploaded, readable blob
	BlobStatusActive BlobStatus = "active"
)

// Blob describes one stored binary object attached to an artifact.
// External blobs point at a caller-provided URL and carry no bytes of
// their own; internal blobs reference a store locator.
type Blob struct {
	// ID is assigned when the upload starts and doubles as the store key
	ID string `json:"id"`

	URL *string `json:"url,omitempty"`

	// Size is unknown (nil) until the upload completes
	Size *int64 `json:"size,omitempty"`

	MD5    *string `json:"md5,omitempty"`
	SHA1   *string `json:"sha1,omitempty"`
	SHA256 *string `json:"sha256,omitempty"`

	External    bool       `json:"external"`
	Status      BlobStatus `json:"status"`
	ContentType string     `json:"content_type"`
}

// SizeOrZero returns the blob size, treating unknown as zero.
func (b *Blob) SizeOrZero() int64 {
	if b == nil || b.Size == nil {
		return 0
	}
	return *b.Size
}
