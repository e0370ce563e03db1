package announce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/foxseedlab/circles/internal/announce"
)

const httpAnnounceTimeout = 10 * time.Second

type httpPayload struct {
	Type   string                `json:"type"`
	Circle announce.Announcement `json:"circle"`
}

// HTTPAnnouncer posts announcements as JSON to a single URL.
type HTTPAnnouncer struct {
	url    string
	client *http.Client
}

func NewHTTPAnnouncer(url string) *HTTPAnnouncer {
	return &HTTPAnnouncer{
		url:    url,
		client: &http.Client{Timeout: httpAnnounceTimeout},
	}
}

func (a *HTTPAnnouncer) CircleLive(ctx context.Context, ann announce.Announcement) error {
	return a.post(ctx, httpPayload{Type: "circle.live", Circle: ann})
}

func (a *HTTPAnnouncer) CircleEnded(ctx context.Context, ann announce.Announcement) error {
	return a.post(ctx, httpPayload{Type: "circle.ended", Circle: ann})
}

func (a *HTTPAnnouncer) post(ctx context.Context, payload httpPayload) error {
	if a.url == "" {
		return nil
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if !isHTTPSuccessStatus(resp.StatusCode) {
		return fmt.Errorf("announce webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func isHTTPSuccessStatus(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
