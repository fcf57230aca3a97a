package twitter

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cenkalti/backoff/v4"
)

// HTTPFetcher pulls tweets from a scraping endpoint that serves
// [{"id", "user_id", "created_at", "text", "reply_to_id"}, ...] sorted
// newest first.
type HTTPFetcher struct {
	Endpoint string
	Client   *http.Client
}

func NewHTTPFetcher(endpoint string, client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 90 * time.Second}
	}
	return &HTTPFetcher{Endpoint: endpoint, Client: client}
}

type wireTweet struct {
	ID        int64  `json:"id"`
	UserID    string `json:"user_id"`
	CreatedAt string `json:"created_at"`
	Text      string `json:"text"`
	ReplyToID int64  `json:"reply_to_id"`
}

func (f *HTTPFetcher) Recent(ctx context.Context, userID string, count int) ([]Tweet, error) {
	u, err := url.Parse(f.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("twitter endpoint: %w", err)
	}
	q := u.Query()
	q.Set("user", userID)
	q.Set("count", fmt.Sprint(count))
	u.RawQuery = q.Encode()

	var body []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := f.Client.Do(req)
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

	var wire []wireTweet
	if err := sonic.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("decode tweets: %w", err)
	}

	tweets := make([]Tweet, 0, len(wire))
	for _, w := range wire {
		ts, err := time.Parse(time.RFC3339, w.CreatedAt)
		if err != nil {
			continue
		}
		tweets = append(tweets, Tweet{
			ID: w.ID, UserID: w.UserID, Time: ts, Text: w.Text, ReplyToID: w.ReplyToID,
		})
	}
	return tweets, nil
}
