package twilio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// StatusError is returned when Twilio answers a media request with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("twilio media status %d: %s", e.StatusCode, e.Body)
}

// ErrRecordingTooLarge is returned when the media exceeds the client's size limit.
var ErrRecordingTooLarge = errors.New("recording exceeds size limit")

// RecordingClient downloads recording media with account credentials.
type RecordingClient struct {
	accountSID string
	authToken  string
	client     *http.Client
	maxBytes   int64
}

const defaultMaxRecordingBytes = 32 << 20

func NewRecordingClient(accountSID, authToken string, client *http.Client) *RecordingClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &RecordingClient{
		accountSID: strings.TrimSpace(accountSID),
		authToken:  strings.TrimSpace(authToken),
		client:     client,
		maxBytes:   defaultMaxRecordingBytes,
	}
}

// WithMaxBytes caps the accepted media size; n <= 0 keeps the current limit.
func (c *RecordingClient) WithMaxBytes(n int64) *RecordingClient {
	if n > 0 {
		c.maxBytes = n
	}
	return c
}

// Fetch returns the recording bytes and their content type.
func (c *RecordingClient) Fetch(ctx context.Context, mediaURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create media request: %w", err)
	}
	if c.accountSID != "" && c.authToken != "" {
		req.SetBasicAuth(c.accountSID, c.authToken)
	}

	res, err := c.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch media: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return nil, "", &StatusError{StatusCode: res.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if res.ContentLength > c.maxBytes {
		return nil, "", fmt.Errorf("%w: %d bytes, limit %d", ErrRecordingTooLarge, res.ContentLength, c.maxBytes)
	}
	data, err := io.ReadAll(io.LimitReader(res.Body, c.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read media: %w", err)
	}
	if int64(len(data)) > c.maxBytes {
		return nil, "", fmt.Errorf("%w: more than %d bytes", ErrRecordingTooLarge, c.maxBytes)
	}
	return data, res.Header.Get("Content-Type"), nil
}
