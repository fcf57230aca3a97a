// Package download is the content-addressed local mirror of remote
// files: conditional HEAD checks, resumable ranged GETs, and cached
// fallbacks so one dead source never stops a run.
package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/thcovid/thcovid/internal/pkg/constants"
	"github.com/thcovid/thcovid/internal/pkg/logger"
)

const (
	defaultTimeout = 60 * time.Second
	maxAttempts    = 3
	// Resumes restart at 95% of the cached size so tail edits of
	// growing files (CSV with revised last rows) are re-read.
	resumeFraction = 0.95
)

// File is the result of one fetch. Missing marks a file that could not
// be fetched and has no cached copy; callers skip it.
type File struct {
	Path         string
	Data         []byte
	URL          string
	LastModified time.Time
	FromCache    bool
	Missing      bool
}

type Fetcher struct {
	client *http.Client
	cutoff time.Time
}

type Option func(*Fetcher)

func WithClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithCutoff enables the MAX_DAYS cut-short: files last modified
// before t surface constants.ErrCutShort so source iteration stops.
func WithCutoff(t time.Time) Option {
	return func(f *Fetcher) { f.cutoff = t }
}

func New(opts ...Option) *Fetcher {
	f := &Fetcher{client: &http.Client{Timeout: defaultTimeout}}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Filename is the sanitized last URL segment.
func Filename(rawurl string) string {
	u, err := url.Parse(rawurl)
	seg := rawurl
	if err == nil {
		seg = path.Base(u.Path)
		if q := u.RawQuery; q != "" && (seg == "." || seg == "/") {
			seg = q
		}
	}
	return strings.NewReplacer(
		"*", "_", "?", "_", ":", "_", "\\", "_", "<", "_", ">", "_", "|", "_", "/", "_",
	).Replace(seg)
}

// Fetch downloads rawurl into dir, reusing the cached copy whenever
// the remote has not changed. check=false trusts any existing copy
// without network access. appending marks files that only grow, which
// enables ranged resumes.
func (f *Fetcher) Fetch(ctx context.Context, rawurl, dir string, check, appending bool) (*File, error) {
	name := Filename(rawurl)
	localPath := filepath.Join(dir, name)

	st, statErr := os.Stat(localPath)
	exists := statErr == nil

	if !check && exists {
		return f.fromCache(localPath, rawurl)
	}

	head, err := f.head(ctx, rawurl)
	if err != nil {
		logger.Warnf(ctx, "head %s: %s", rawurl, err)
		if exists {
			return f.fromCache(localPath, rawurl)
		}
		return &File{URL: rawurl, Missing: true}, nil
	}

	lastMod := head.lastModified
	if !f.cutoff.IsZero() && !lastMod.IsZero() && lastMod.Before(f.cutoff) {
		file := &File{Path: localPath, URL: rawurl, LastModified: lastMod}
		if exists {
			cached, err := f.fromCache(localPath, rawurl)
			if err == nil {
				cached.LastModified = lastMod
				file = cached
			}
		}
		return file, fmt.Errorf("%s: %w", rawurl, constants.ErrCutShort)
	}

	if exists {
		current := true
		if !lastMod.IsZero() && lastMod.After(st.ModTime()) {
			current = false
		}
		if head.contentLength >= 0 && head.contentLength != st.Size() {
			current = false
		}
		if current {
			return f.fromCache(localPath, rawurl)
		}
	}

	resumeAt := int64(-1)
	if exists && appending && head.acceptRanges && st.Size() > 0 {
		resumeAt = int64(resumeFraction * float64(st.Size()))
	}

	if err := f.get(ctx, rawurl, localPath, dir, resumeAt); err != nil {
		logger.Warnf(ctx, "get %s: %s", rawurl, err)
		if exists {
			return f.fromCache(localPath, rawurl)
		}
		return &File{URL: rawurl, Missing: true}, nil
	}

	if !lastMod.IsZero() {
		_ = os.Chtimes(localPath, lastMod, lastMod)
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", localPath, err)
	}
	return &File{Path: localPath, Data: data, URL: rawurl, LastModified: lastMod}, nil
}

func (f *Fetcher) fromCache(localPath, rawurl string) (*File, error) {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return nil, fmt.Errorf("read cache %s: %w", localPath, err)
	}
	return &File{Path: localPath, Data: data, URL: rawurl, FromCache: true}, nil
}

type headInfo struct {
	lastModified  time.Time
	contentLength int64
	acceptRanges  bool
}

func (f *Fetcher) head(ctx context.Context, rawurl string) (*headInfo, error) {
	var info *headInfo
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawurl, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := f.client.Do(req)
		if err != nil {
			return fmt.Errorf("head: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return backoff.Permanent(fmt.Errorf("%s: %w", rawurl, constants.ErrMissingFile))
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("head status %d", resp.StatusCode)
		}

		info = &headInfo{contentLength: resp.ContentLength}
		if lm := resp.Header.Get("Last-Modified"); lm != "" {
			if t, err := http.ParseTime(lm); err == nil {
				info.lastModified = t
			}
		}
		info.acceptRanges = strings.Contains(resp.Header.Get("Accept-Ranges"), "bytes")
		return nil
	}
	err := backoff.Retry(op, f.policy(ctx))
	if err != nil {
		return nil, err
	}
	return info, nil
}

func (f *Fetcher) get(ctx context.Context, rawurl, localPath, dir string, resumeAt int64) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawurl, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		if resumeAt >= 0 {
			req.Header.Set("Range", fmt.Sprintf("bytes=%d-", resumeAt))
		}
		resp, err := f.client.Do(req)
		if err != nil {
			return fmt.Errorf("get: %w", err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusPartialContent && resumeAt >= 0:
			return writeAt(localPath, resp.Body, resumeAt)
		case resp.StatusCode == http.StatusOK:
			return writeWhole(localPath, resp.Body)
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(fmt.Errorf("%s: %w", rawurl, constants.ErrMissingFile))
		default:
			return fmt.Errorf("get status %d", resp.StatusCode)
		}
	}
	return backoff.Retry(op, f.policy(ctx))
}

func (f *Fetcher) policy(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	return backoff.WithContext(backoff.WithMaxRetries(b, maxAttempts-1), ctx)
}

func writeWhole(localPath string, r io.Reader) error {
	tmp := localPath + ".part"
	file, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(file, r); err != nil {
		file.Close()
		os.Remove(tmp)
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, localPath)
}

// writeAt truncates the cached file at the resume offset and appends
// the ranged body from there.
func writeAt(localPath string, r io.Reader, offset int64) error {
	file, err := os.OpenFile(localPath, os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()
	if err := file.Truncate(offset); err != nil {
		return err
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	_, err = io.Copy(file, r)
	return err
}
