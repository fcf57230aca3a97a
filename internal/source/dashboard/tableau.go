package dashboard

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/thcovid/thcovid/internal/dates"
	"github.com/thcovid/thcovid/internal/pkg/constants"
)

// tableauSession talks to a Tableau Public workbook through its
// bootstrap endpoint. The server keeps filter state per session id;
// when the id expires, queries come back empty and the caller sees
// ErrStaleSession.
type tableauSession struct {
	client    *http.Client
	base      string // e.g. https://public.tableau.com/vizql/w/<wb>/v/<view>
	sessionID string
}

// NewTableauFactory returns a SessionFactory bound to one workbook URL.
func NewTableauFactory(workbookURL string, client *http.Client) SessionFactory {
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	return func(ctx context.Context) (Session, error) {
		s := &tableauSession{client: client, base: workbookURL}
		if err := s.bootstrap(ctx); err != nil {
			return nil, err
		}
		return s, nil
	}
}

func (s *tableauSession) bootstrap(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.base+"/bootstrapSession/sessions/new", strings.NewReader("worksheetPortSize=%7B%22w%22%3A800%2C%22h%22%3A600%7D"))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("tableau bootstrap: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tableau bootstrap: status %d", resp.StatusCode)
	}
	id := resp.Header.Get("X-Session-Id")
	if id == "" {
		return fmt.Errorf("tableau bootstrap: no session id")
	}
	s.sessionID = id
	return nil
}

// worksheetData is the reduced shape of a vizql data response: one
// column of category labels and aligned value columns.
type worksheetData struct {
	Categories []string             `json:"categories"`
	Values     map[string][]float64 `json:"values"`
	Updated    string               `json:"updated"`
}

func (s *tableauSession) query(ctx context.Context, worksheet string, params url.Values) (*worksheetData, error) {
	if s.sessionID == "" {
		return nil, fmt.Errorf("tableau query: %w", constants.ErrStaleSession)
	}
	params.Set("worksheet", worksheet)

	u := fmt.Sprintf("%s/sessions/%s/views/data?%s", s.base, s.sessionID, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tableau query %s: %w", worksheet, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("tableau query %s: status %d: %w", worksheet, resp.StatusCode, constants.ErrStaleSession)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tableau query %s: status %d", worksheet, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var data worksheetData
	if err := sonic.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("tableau decode %s: %w", worksheet, err)
	}
	if len(data.Categories) == 0 && len(data.Values) == 0 {
		// Expired sessions answer 200 with an empty model.
		return nil, fmt.Errorf("tableau query %s: empty model: %w", worksheet, constants.ErrStaleSession)
	}
	return &data, nil
}

func (s *tableauSession) Series(ctx context.Context, worksheet string) (map[dates.Date]float64, error) {
	data, err := s.query(ctx, worksheet, url.Values{})
	if err != nil {
		return nil, err
	}
	var vals []float64
	for _, v := range data.Values {
		vals = v
		break
	}

	out := make(map[dates.Date]float64, len(data.Categories))
	for i, label := range data.Categories {
		if i >= len(vals) {
			break
		}
		d, err := parseTableauDate(label)
		if err != nil {
			continue
		}
		out[d] = vals[i]
	}
	return out, nil
}

func (s *tableauSession) Value(ctx context.Context, worksheet string) (float64, error) {
	data, err := s.query(ctx, worksheet, url.Values{})
	if err != nil {
		return 0, err
	}
	for _, vals := range data.Values {
		if len(vals) > 0 {
			return vals[0], nil
		}
	}
	return 0, fmt.Errorf("tableau %s: %w", worksheet, constants.ErrNotFound)
}

func (s *tableauSession) SetProvince(ctx context.Context, name string) error {
	return s.setFilter(ctx, "province", name)
}

func (s *tableauSession) SetDate(ctx context.Context, d dates.Date) error {
	return s.setFilter(ctx, "date", d.String())
}

func (s *tableauSession) setFilter(ctx context.Context, field, value string) error {
	if s.sessionID == "" {
		return fmt.Errorf("tableau filter: %w", constants.ErrStaleSession)
	}
	form := url.Values{}
	form.Set("globalFieldName", field)
	form.Set("filterValues", value)

	u := fmt.Sprintf("%s/sessions/%s/commands/categorical-filter", s.base, s.sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("tableau filter %s: %w", field, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("tableau filter %s: %w", field, constants.ErrStaleSession)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tableau filter %s: status %d", field, resp.StatusCode)
	}
	return nil
}

func (s *tableauSession) LastUpdate(ctx context.Context) (dates.Date, error) {
	data, err := s.query(ctx, "D_UpdateTime", url.Values{})
	if err != nil {
		return dates.Date{}, err
	}
	if data.Updated != "" {
		if d, perr := dates.Parse(data.Updated); perr == nil {
			return d, nil
		}
	}
	for _, label := range data.Categories {
		if d, perr := parseTableauDate(label); perr == nil {
			return d, nil
		}
	}
	return dates.Date{}, fmt.Errorf("tableau update time: %w", constants.ErrDateUnresolved)
}

func (s *tableauSession) Close() error {
	s.sessionID = ""
	return nil
}

func parseTableauDate(label string) (dates.Date, error) {
	label = strings.TrimSpace(label)
	if d, err := dates.Parse(label); err == nil {
		return d, nil
	}
	for _, layout := range []string{"1/2/2006", "2/1/06", "02/01/2006"} {
		if t, err := time.Parse(layout, label); err == nil {
			return dates.FromTime(t), nil
		}
	}
	if d, err := dates.FindThaiDate(label); err == nil {
		return d, nil
	}
	return dates.Date{}, constants.ErrDateUnresolved
}
