package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/Haranoi17/tasmotizer-SmartHomeProject/pkg/errors"
)

// NetworkError reports a failed image download. Status is zero when the
// request never got a response.
type NetworkError struct {
	URL    string
	Status int
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("download %s: unexpected status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Progress receives a completion fraction in [0,1]. It reports -1 when
// the total size is unknown up front.
type Progress func(fraction float64)

// Fetcher materializes any Source as a local file.
type Fetcher struct {
	client   *http.Client
	s3Region string
}

// NewFetcher builds a Fetcher. s3Region is only consulted for s3 sources.
func NewFetcher(s3Region string) *Fetcher {
	return &Fetcher{
		client:   &http.Client{Timeout: 5 * time.Minute},
		s3Region: s3Region,
	}
}

// Fetch copies the source to destPath and returns size and checksum.
func (f *Fetcher) Fetch(ctx context.Context, src Source, destPath string, progress Progress) (*DownloadResult, error) {
	if progress == nil {
		progress = func(float64) {}
	}

	slog.Info("fetch_started", "source", src.String(), "kind", src.Kind.String(), "dest", destPath)

	switch src.Kind {
	case KindHTTP:
		return f.fetchHTTP(ctx, src.URL, destPath, progress)
	case KindS3:
		return f.fetchS3(ctx, src, destPath)
	case KindLocal:
		return fetchLocal(src.Path, destPath, progress)
	default:
		return nil, fmt.Errorf("unknown source kind %d", src.Kind)
	}
}

func (f *Fetcher) fetchHTTP(ctx context.Context, rawURL, destPath string, progress Progress) (*DownloadResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &NetworkError{URL: rawURL, Err: err}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		slog.Error("fetch_request_failed", "url", rawURL, "error", err)
		return nil, &NetworkError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		slog.Error("fetch_bad_status", "url", rawURL, "status", resp.StatusCode)
		return nil, &NetworkError{URL: rawURL, Status: resp.StatusCode}
	}

	out, err := os.Create(destPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create download target")
	}
	defer out.Close()

	hash := sha256.New()
	total := resp.ContentLength
	var written int64

	buf := make([]byte, 32*1024)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return nil, errors.Wrap(werr, "failed to write download")
			}
			hash.Write(buf[:n])
			written += int64(n)
			if total > 0 {
				progress(float64(written) / float64(total))
			} else {
				progress(-1)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			slog.Error("fetch_body_failed", "url", rawURL, "error", rerr)
			return nil, &NetworkError{URL: rawURL, Err: rerr}
		}
	}

	checksum := hex.EncodeToString(hash.Sum(nil))
	slog.Info("fetch_complete", "url", rawURL, "size", written, "sha256", checksum[:16]+"...")

	return &DownloadResult{LocalPath: destPath, SHA256: checksum, Size: written}, nil
}

func (f *Fetcher) fetchS3(ctx context.Context, src Source, destPath string) (*DownloadResult, error) {
	client, err := NewClient(ctx, src.Bucket, f.s3Region)
	if err != nil {
		return nil, err
	}
	res, err := client.Download(ctx, src.Key, destPath)
	if err != nil {
		return nil, &NetworkError{URL: src.String(), Err: err}
	}
	return res, nil
}

func fetchLocal(srcPath, destPath string, progress Progress) (*DownloadResult, error) {
	in, err := os.Open(srcPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open image file")
	}
	defer in.Close()

	out, err := os.Create(destPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create work copy")
	}
	defer out.Close()

	hash := sha256.New()
	size, err := io.Copy(io.MultiWriter(out, hash), in)
	if err != nil {
		return nil, errors.Wrap(err, "failed to copy image file")
	}
	progress(1)

	checksum := hex.EncodeToString(hash.Sum(nil))
	slog.Info("fetch_complete", "path", srcPath, "size", size, "sha256", checksum[:16]+"...")

	return &DownloadResult{LocalPath: destPath, SHA256: checksum, Size: size}, nil
}
