// Package drive lists the shared Google Drive folders where the CCSA
// uploads briefing PDFs, via the v3 files API and an API key. Without
// a key the pipeline keeps working from whatever is already cached.
package drive

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cenkalti/backoff/v4"

	"github.com/thcovid/thcovid/internal/pkg/logger"
)

const filesEndpoint = "https://www.googleapis.com/drive/v3/files"

// File is one listed Drive file.
type File struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
}

// DownloadURL is the direct-download form of a listed file.
func (f File) DownloadURL() string {
	return fmt.Sprintf("https://drive.google.com/uc?export=download&id=%s", f.ID)
}

type listPage struct {
	Files         []File `json:"files"`
	NextPageToken string `json:"nextPageToken"`
}

type Client struct {
	apiKey   string
	client   *http.Client
	endpoint string
}

func NewClient(apiKey string, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{apiKey: apiKey, client: client, endpoint: filesEndpoint}
}

// Enabled reports whether listing can work at all.
func (c *Client) Enabled() bool {
	return c.apiKey != ""
}

// List returns every file in folderID, name-sorted. Paging follows
// nextPageToken to the end; a missing API key yields a warning and an
// empty listing so callers fall back to their local cache.
func (c *Client) List(ctx context.Context, folderID string) ([]File, error) {
	if !c.Enabled() {
		logger.Warnf(ctx, "drive: no api key, folder %s skipped", folderID)
		return nil, nil
	}

	var files []File
	token := ""
	for {
		pg, err := c.page(ctx, folderID, token)
		if err != nil {
			return nil, fmt.Errorf("drive list %s: %w", folderID, err)
		}
		files = append(files, pg.Files...)
		if pg.NextPageToken == "" {
			break
		}
		token = pg.NextPageToken
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

func (c *Client) page(ctx context.Context, folderID, token string) (*listPage, error) {
	q := url.Values{}
	q.Set("key", c.apiKey)
	q.Set("q", fmt.Sprintf("'%s' in parents and trashed = false", folderID))
	q.Set("fields", "nextPageToken,files(id,name,mimeType)")
	q.Set("pageSize", "1000")
	if token != "" {
		q.Set("pageToken", token)
	}

	var body []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+q.Encode(), nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return fmt.Errorf("get: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("status %d", resp.StatusCode))
		}
		body, err = io.ReadAll(resp.Body)
		return err
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, 2), ctx)); err != nil {
		return nil, err
	}

	var pg listPage
	if err := sonic.Unmarshal(body, &pg); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return &pg, nil
}
