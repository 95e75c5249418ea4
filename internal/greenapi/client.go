// Package greenapi speaks the Green API REST surface: paginated chat
// history, instance state, message sending, and media downloads. All
// requests are rate limited and transient failures are retried with
// exponential backoff before an error reaches the caller.
package greenapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// MaxPageSize is the provider's hard cap on messages per history request.
const MaxPageSize = 100

// Config carries the client's credentials and tuning knobs.
type Config struct {
	InstanceID         string
	Token              string
	BaseURL            string
	MediaURL           string
	MaxRetries         int           // retries after the first attempt
	BackoffBase        time.Duration // first retry delay, doubled per attempt
	MinRequestInterval time.Duration // rate limit between API calls
	RequestTimeout     time.Duration
	DownloadTimeout    time.Duration
}

// Client is a rate-limited Green API client.
type Client struct {
	cfg     Config
	http    *http.Client
	media   *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// New creates a client. Zero tuning values get conservative defaults.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.green-api.com"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.MinRequestInterval <= 0 {
		cfg.MinRequestInterval = time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 60 * time.Second
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		media:   &http.Client{Timeout: cfg.DownloadTimeout},
		limiter: rate.NewLimiter(rate.Every(cfg.MinRequestInterval), 1),
		logger:  logger,
	}
}

func (c *Client) endpoint(method string) string {
	return fmt.Sprintf("%s/waInstance%s/%s/%s", c.cfg.BaseURL, c.cfg.InstanceID, method, c.cfg.Token)
}

// call issues one API request, retrying transient failures with exponential
// backoff. Total attempts = MaxRetries + 1. A nil payload sends a GET.
func (c *Client) call(ctx context.Context, apiMethod string, payload any) ([]byte, error) {
	httpMethod := http.MethodGet
	var body []byte
	if payload != nil {
		httpMethod = http.MethodPost
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", apiMethod, err)
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var lastErr *APIError
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.cfg.BackoffBase << (attempt - 1)
			c.logger.Warn("retrying api call",
				zap.String("method", apiMethod),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.String("last_error", lastErr.Error()))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, httpMethod, c.endpoint(apiMethod), reader)
		if err != nil {
			return nil, fmt.Errorf("build %s request: %w", apiMethod, err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = &APIError{Method: apiMethod, StatusCode: 0, Body: err.Error()}
			continue
		}

		data, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = &APIError{Method: apiMethod, StatusCode: 0, Body: readErr.Error()}
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return data, nil
		}

		apiErr := &APIError{Method: apiMethod, StatusCode: resp.StatusCode, Body: truncateBody(data)}
		if !apiErr.Transient() {
			return nil, apiErr
		}
		lastErr = apiErr
	}
	return nil, lastErr
}

// FetchChatHistory returns one page of a chat's history, newest first. An
// empty cursor starts from the newest message; otherwise cursor must be the
// NextCursor of the previous page. pageSize is clamped to MaxPageSize.
func (c *Client) FetchChatHistory(ctx context.Context, chatID, cursor string, pageSize int) (*HistoryPage, error) {
	if pageSize <= 0 || pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	payload := map[string]any{
		"chatId": chatID,
		"count":  pageSize,
	}
	if cursor != "" {
		payload["lastMessageId"] = cursor
	}

	data, err := c.call(ctx, "getChatHistory", payload)
	if err != nil {
		return nil, err
	}

	var msgs []RawMessage
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("decode getChatHistory response: %w", err)
	}

	page := &HistoryPage{Messages: msgs}
	if len(msgs) > 0 {
		page.NextCursor = msgs[len(msgs)-1].ID
	}
	// A short page means the walk reached the start of history.
	if len(msgs) < pageSize {
		page.End = true
	}
	return page, nil
}

// GetStateInstance returns the provider instance state ("authorized" etc).
func (c *Client) GetStateInstance(ctx context.Context) (string, error) {
	data, err := c.call(ctx, "getStateInstance", nil)
	if err != nil {
		return "", err
	}
	var state struct {
		StateInstance string `json:"stateInstance"`
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return "", fmt.Errorf("decode getStateInstance response: %w", err)
	}
	return state.StateInstance, nil
}

// GetChats lists the chats known to the instance, newest activity first as
// returned by the provider.
func (c *Client) GetChats(ctx context.Context) ([]RawChat, error) {
	data, err := c.call(ctx, "getChats", nil)
	if err != nil {
		return nil, err
	}
	var chats []RawChat
	if err := json.Unmarshal(data, &chats); err != nil {
		return nil, fmt.Errorf("decode getChats response: %w", err)
	}
	return chats, nil
}

// GetContacts lists the instance's address book, users and groups alike.
func (c *Client) GetContacts(ctx context.Context) ([]RawContact, error) {
	data, err := c.call(ctx, "getContacts", nil)
	if err != nil {
		return nil, err
	}
	var contacts []RawContact
	if err := json.Unmarshal(data, &contacts); err != nil {
		return nil, fmt.Errorf("decode getContacts response: %w", err)
	}
	return contacts, nil
}

// SendMessage sends a text message and returns the provider message id.
func (c *Client) SendMessage(ctx context.Context, chatID, text string) (string, error) {
	data, err := c.call(ctx, "sendMessage", map[string]any{
		"chatId":  chatID,
		"message": text,
	})
	if err != nil {
		return "", err
	}
	var resp struct {
		IDMessage string `json:"idMessage"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("decode sendMessage response: %w", err)
	}
	return resp.IDMessage, nil
}

// DownloadMedia streams a media URL into w and returns the Content-Type
// header and byte count. Downloads bypass the API rate limiter; they target
// the media host, not the API.
func (c *Client) DownloadMedia(ctx context.Context, url string, w io.Writer) (string, int64, error) {
	url = c.mediaTarget(url)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", 0, err
	}
	resp, err := c.media.Do(req)
	if err != nil {
		return "", 0, &APIError{Method: "downloadMedia", StatusCode: 0, Body: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", 0, &APIError{Method: "downloadMedia", StatusCode: resp.StatusCode, Body: truncateBody(body)}
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return "", n, fmt.Errorf("stream media body: %w", err)
	}
	return resp.Header.Get("Content-Type"), n, nil
}

// mediaTarget moves download URLs that point at the API host onto the
// configured media host. High-traffic instances return downloadUrl on the
// API host while the file itself is served from the media endpoint; URLs
// already elsewhere are left alone.
func (c *Client) mediaTarget(rawURL string) string {
	if c.cfg.MediaURL == "" {
		return rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	api, err := url.Parse(c.cfg.BaseURL)
	if err != nil || u.Host != api.Host {
		return rawURL
	}
	media, err := url.Parse(c.cfg.MediaURL)
	if err != nil {
		return rawURL
	}
	u.Scheme = media.Scheme
	u.Host = media.Host
	return u.String()
}

func truncateBody(data []byte) string {
	const max = 512
	if len(data) > max {
		return string(data[:max]) + "..."
	}
	return string(data)
}
