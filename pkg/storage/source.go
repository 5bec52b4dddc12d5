// Package storage resolves firmware image sources and fetches them to the
// local work directory. Images come from plain files, http(s) URLs, or
// s3:// buckets; every fetch lands as a file with a recorded SHA256.
package storage

import (
	"fmt"
	"net/url"
	"strings"
)

// Kind discriminates image source schemes.
type Kind int

const (
	KindLocal Kind = iota
	KindHTTP
	KindS3
)

func (k Kind) String() string {
	switch k {
	case KindLocal:
		return "local"
	case KindHTTP:
		return "http"
	case KindS3:
		return "s3"
	default:
		return "unknown"
	}
}

// Source is one resolved image location.
type Source struct {
	Kind Kind

	// URL is set for http(s) sources.
	URL string

	// Bucket and Key are set for s3 sources.
	Bucket string
	Key    string

	// Path is set for local sources.
	Path string
}

func (s Source) String() string {
	switch s.Kind {
	case KindHTTP:
		return s.URL
	case KindS3:
		return "s3://" + s.Bucket + "/" + s.Key
	default:
		return s.Path
	}
}

// ResolveSource classifies a raw image reference. Anything without a
// recognized scheme is treated as a local path, so bare filenames work.
func ResolveSource(raw string) (Source, error) {
	if raw == "" {
		return Source{}, fmt.Errorf("empty image source")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Source{Kind: KindLocal, Path: raw}, nil
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return Source{Kind: KindHTTP, URL: raw}, nil
	case "s3":
		key := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || key == "" {
			return Source{}, fmt.Errorf("s3 source needs bucket and key: %s", raw)
		}
		return Source{Kind: KindS3, Bucket: u.Host, Key: key}, nil
	case "file":
		return Source{Kind: KindLocal, Path: u.Path}, nil
	case "":
		return Source{Kind: KindLocal, Path: raw}, nil
	default:
		return Source{}, fmt.Errorf("unsupported image source scheme %q", u.Scheme)
	}
}
