package storage

import (
	"errors"
	"io"
	"time"
)

var (
	ErrNotFound   = errors.New("blob not found")
	ErrInvalidKey = errors.New("invalid blob key")
)

// Info describes a stored blob.
type Info struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// ReadSeekCloser is what range serving needs.
type ReadSeekCloser interface {
	io.ReadSeeker
	io.Closer
}

// BlobStore holds material bytes (PDFs, videos, slides, images).
type BlobStore interface {
	Put(key string, r io.Reader) (string, error) // returns canonical key
	Open(key string) (ReadSeekCloser, Info, error)
	Stat(key string) (Info, error)
}
