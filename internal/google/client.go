package google

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// APIError represents a structured error returned by a Google API
type APIError struct {
	StatusCode int    `json:"code"`
	Status     string `json:"status"` // e.g. PERMISSION_DENIED, NOT_FOUND
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("google api error %d (%s): %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("google api error %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is (or wraps) a Google API 404
func IsNotFound(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusNotFound || apiErr.Status == "NOT_FOUND"
}

// IsPermissionDenied reports whether err is (or wraps) a Google API 403
func IsPermissionDenied(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusForbidden || apiErr.Status == "PERMISSION_DENIED"
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 60 * time.Second,
	}
}

// doJSON performs an authenticated JSON request against a Google API and
// decodes the response into out (which may be nil). Non-2xx responses are
// returned as *APIError.
func doJSON(ctx context.Context, client *http.Client, method, url, accessToken string, body, out interface{}, headers map[string]string) error {
	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	var envelope struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Message != "" {
		return &APIError{
			StatusCode: resp.StatusCode,
			Status:     envelope.Error.Status,
			Message:    envelope.Error.Message,
		}
	}

	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		msg = resp.Status
	}
	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    msg,
	}
}
