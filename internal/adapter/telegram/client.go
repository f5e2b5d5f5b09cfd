// Package telegram delivers notifications through the Telegram Bot API.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/couchcryptid/cad-incident-notifier/internal/domain"
)

const defaultBaseURL = "https://api.telegram.org"

// Client sends and edits messages in a single chat. Calls are rate-limited
// client-side to stay under the Bot API per-chat limits.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	chatID     string
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient creates a Telegram client for the given bot token and chat.
func NewClient(token, chatID string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    defaultBaseURL,
		token:      token,
		chatID:     chatID,
		limiter:    rate.NewLimiter(rate.Every(time.Second), 3),
		logger:     logger,
	}
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}

// Send posts a new HTML-formatted message and returns its message id.
func (c *Client) Send(ctx context.Context, text string) (int64, error) {
	form := url.Values{
		"chat_id":                  {c.chatID},
		"text":                     {text},
		"parse_mode":               {"HTML"},
		"disable_web_page_preview": {"true"},
	}
	resp, err := c.call(ctx, "sendMessage", form)
	if err != nil {
		return 0, err
	}
	return resp.Result.MessageID, nil
}

// Edit replaces the text of an existing message. Returns
// domain.ErrMessageNotFound when the message no longer exists, so the caller
// can fall back to a fresh send. An edit with unchanged content is a no-op.
func (c *Client) Edit(ctx context.Context, messageID int64, text string) error {
	form := url.Values{
		"chat_id":                  {c.chatID},
		"message_id":               {strconv.FormatInt(messageID, 10)},
		"text":                     {text},
		"parse_mode":               {"HTML"},
		"disable_web_page_preview": {"true"},
	}
	_, err := c.call(ctx, "editMessageText", form)
	return err
}

func (c *Client) call(ctx context.Context, method string, form url.Values) (*apiResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("telegram: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: %s: %w", method, err)
	}
	defer httpResp.Body.Close()

	var resp apiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("telegram: %s: decode response: %w", method, err)
	}
	if !resp.OK {
		desc := strings.ToLower(resp.Description)
		switch {
		case strings.Contains(desc, "message to edit not found"):
			return nil, domain.ErrMessageNotFound
		case strings.Contains(desc, "message is not modified"):
			return &resp, nil
		}
		c.logger.Warn("telegram api error", "method", method, "description", resp.Description)
		return nil, fmt.Errorf("telegram: %s: %s", method, resp.Description)
	}
	return &resp, nil
}
