// Package store moves blob bytes in and out of a backing store. The registry
// only records blob metadata rows; the bytes themselves travel through one of
// the backends here, outside any artifact lock.
package store

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"

	"github.com/openartifacts/registry/common/apperr"
)

// Digests carries the checksums computed while the blob streamed through.
type Digests struct {
	MD5    string
	SHA1   string
	SHA256 string
}

// Backend saves and loads blob payloads. Save consumes the reader fully,
// enforcing maxSize (-1 = unbounded), and returns a locator URL that Load
// and Delete understand.
type Backend interface {
	Save(ctx context.Context, id string, r io.Reader, maxSize int64) (url string, size int64, dg Digests, err error)
	Load(ctx context.Context, url string) (io.ReadCloser, error)
	Delete(ctx context.Context, url string) error
}

// digestReader wraps a blob stream, counting bytes, hashing them, and
// failing once more than max bytes have been read.
type digestReader struct {
	r    io.Reader
	max  int64
	n    int64
	md5  hash.Hash
	sha1 hash.Hash
	s256 hash.Hash
}

func newDigestReader(r io.Reader, max int64) *digestReader {
	return &digestReader{
		r:    r,
		max:  max,
		md5:  md5.New(),
		sha1: sha1.New(),
		s256: sha256.New(),
	}
}

func (d *digestReader) Read(p []byte) (int, error) {
	n, err := d.r.Read(p)
	if n > 0 {
		d.n += int64(n)
		if d.max >= 0 && d.n > d.max {
			return n, apperr.TooLarge("blob data exceeds the maximum allowed size of %d bytes", d.max)
		}
		d.md5.Write(p[:n])
		d.sha1.Write(p[:n])
		d.s256.Write(p[:n])
	}
	return n, err
}

func (d *digestReader) digests() Digests {
	return Digests{
		MD5:    hex.EncodeToString(d.md5.Sum(nil)),
		SHA1:   hex.EncodeToString(d.sha1.Sum(nil)),
		SHA256: hex.EncodeToString(d.s256.Sum(nil)),
	}
}
