// Package chpcad scrapes the CHP CAD traffic page. The page is a classic
// ASP.NET WebForms app: selecting a communication center and opening an
// incident's detail panel are form postbacks carried by hidden view-state
// fields, not addressable URLs.
package chpcad

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/couchcryptid/cad-incident-notifier/internal/domain"
)

var uaPool = []string{
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_6) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17 Safari/605.1.15",
}

const maxAttempts = 5

// Client fetches incident snapshots and detail narratives for one
// communication center. It holds the session cookies and the last grid page,
// whose view-state fields are replayed on every detail postback.
type Client struct {
	httpClient *http.Client
	baseURL    string
	center     string
	logger     *slog.Logger

	mu   sync.Mutex
	page *goquery.Document
}

// NewClient creates a scraping client for the given center.
func NewClient(baseURL, center string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("chpcad: cookie jar: %w", err)
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout, Jar: jar},
		baseURL:    baseURL,
		center:     center,
		logger:     logger,
	}, nil
}

// FetchSnapshot loads the traffic page, selects the configured center, and
// parses the incident grid. The resulting page is kept for subsequent
// narrative postbacks.
func (c *Client) FetchSnapshot(ctx context.Context) ([]domain.RawIncident, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc, err := c.get(ctx)
	if err != nil {
		return nil, err
	}
	doc, err = c.selectCenter(ctx, doc)
	if err != nil {
		return nil, err
	}
	c.page = doc
	return parseIncidentRows(doc), nil
}

// FetchNarrative opens the incident's detail panel via postback and parses
// the map coordinates and narrative lines out of it.
func (c *Client) FetchNarrative(ctx context.Context, inc domain.RawIncident) (*domain.Coordinates, []string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.page == nil {
		return nil, nil, fmt.Errorf("chpcad: no grid page loaded")
	}
	if inc.DetailRef == "" {
		return nil, nil, nil
	}

	// A short pause between detail postbacks keeps the request pattern
	// closer to a human clicking through rows.
	if !sleepCtx(ctx, 500*time.Millisecond+rand.N(time.Second)) {
		return nil, nil, ctx.Err()
	}

	form := formFields(c.page)
	form.Set("__EVENTTARGET", inc.DetailRef)
	form.Set("__EVENTARGUMENT", "")

	doc, err := c.post(ctx, form, nil)
	if err != nil {
		return nil, nil, err
	}
	coords, lines := parseDetailsPanel(doc)
	return coords, lines, nil
}

// selectCenter replays the center dropdown selection. The server accepts it
// in different shapes depending on page revision, so three strategies are
// tried in order: a plain submit-button post, a dropdown __EVENTTARGET
// postback, and a ScriptManager async postback followed by a plain GET.
func (c *Client) selectCenter(ctx context.Context, doc *goquery.Document) (*goquery.Document, error) {
	ddlName, ddlID, value := findCenterSelect(doc, c.center)
	if ddlName == "" {
		if hasIncidentGrid(doc) {
			return doc, nil
		}
		return nil, fmt.Errorf("chpcad: center selector %q not found", c.center)
	}

	for _, btn := range findSubmitButtons(doc) {
		form := formFields(doc)
		form.Set(ddlName, value)
		form.Set(btn, "OK")
		next, err := c.post(ctx, form, nil)
		if err == nil && hasIncidentGrid(next) {
			return next, nil
		}
	}

	form := formFields(doc)
	form.Set(ddlName, value)
	form.Set("__EVENTTARGET", ddlName)
	form.Set("__EVENTARGUMENT", "")
	next, err := c.post(ctx, form, nil)
	if err == nil && hasIncidentGrid(next) {
		return next, nil
	}

	if smName := findScriptManager(doc); smName != "" {
		upID := findUpdatePanel(doc)
		form := formFields(doc)
		form.Set(ddlName, value)
		form.Set("__EVENTTARGET", ddlName)
		form.Set("__EVENTARGUMENT", "")
		form.Set("__ASYNCPOST", "true")
		form.Set(smName, upID+"|"+firstNonEmpty(ddlID, ddlName))
		if _, err := c.post(ctx, form, map[string]string{"X-MicrosoftAjax": "Delta=true"}); err == nil {
			// The async response is a delta stream; the applied selection
			// shows up on a plain follow-up GET.
			if next, err := c.get(ctx); err == nil && hasIncidentGrid(next) {
				return next, nil
			}
		}
	}

	if hasIncidentGrid(doc) {
		return doc, nil
	}
	return nil, fmt.Errorf("chpcad: incident grid not reachable for center %q", c.center)
}

func (c *Client) get(ctx context.Context) (*goquery.Document, error) {
	return c.do(ctx, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	}, nil)
}

func (c *Client) post(ctx context.Context, form url.Values, headers map[string]string) (*goquery.Document, error) {
	body := form.Encode()
	return c.do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	}, headers)
}

// do issues the request with bounded exponential backoff. 5xx, 429, and 403
// responses are retried; the CAD site intermittently serves 403 from its
// bot protection and recovers on its own.
func (c *Client) do(ctx context.Context, build func() (*http.Request, error), headers map[string]string) (*goquery.Document, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req, err := build()
		if err != nil {
			return nil, fmt.Errorf("chpcad: build request: %w", err)
		}
		req.Header.Set("User-Agent", uaPool[rand.IntN(len(uaPool))])
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
		} else if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusForbidden {
			io.Copy(io.Discard, resp.Body) //nolint:errcheck
			resp.Body.Close()
			lastErr = fmt.Errorf("chpcad: status %d", resp.StatusCode)
		} else {
			doc, parseErr := goquery.NewDocumentFromReader(resp.Body)
			resp.Body.Close()
			if parseErr != nil {
				return nil, fmt.Errorf("chpcad: parse page: %w", parseErr)
			}
			return doc, nil
		}

		c.logger.Debug("cad request retry", "attempt", attempt, "error", lastErr)
		if !sleepCtx(ctx, backoff(attempt)) {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("chpcad: request failed after %d attempts: %w", maxAttempts, lastErr)
}

func backoff(attempt int) time.Duration {
	d := 500 * time.Millisecond << (attempt - 1)
	if d > 10*time.Second {
		d = 10 * time.Second
	}
	return d + rand.N(500*time.Millisecond)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
