package alma

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Alma error codes meaning the requested user does not exist.
var notFoundCodes = map[string]bool{
	"401861": true, // User with identifier X was not found
	"401890": true, // User with identifier X of type Y was not found
}

// KeyFunc resolves the API key of a zone and environment.
type KeyFunc func(zone, env string) (string, error)

// HTTPClient talks to the Alma Users REST API.
type HTTPClient struct {
	baseURL string
	keys    KeyFunc
	http    *http.Client
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPClient) {
		h.http = c
	}
}

// NewHTTPClient creates a client for the API rooted at baseURL.
func NewHTTPClient(baseURL string, keys KeyFunc, opts ...HTTPOption) *HTTPClient {
	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		keys:    keys,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-success answer of the Alma API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("alma api: status %d: %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("alma api: status %d: %s", e.Status, e.Message)
}

// Unwrap lets errors.Is(err, ErrUserNotFound) match not-found answers.
func (e *APIError) Unwrap() error {
	if e.Status == http.StatusNotFound || notFoundCodes[e.Code] {
		return ErrUserNotFound
	}
	return nil
}

// Create implements Client.
func (c *HTTPClient) Create(ctx context.Context, zone, env string, data []byte, password string) (*User, error) {
	if password != "" {
		var err error
		if data, err = sjson.SetBytes(data, "password", password); err != nil {
			return nil, fmt.Errorf("failed to set password: %w", err)
		}
	}

	query := url.Values{
		"social_authentication":  {"false"},
		"send_pin_number_letter": {"false"},
	}
	body, err := c.do(ctx, http.MethodPost, zone, env, "/users", query, data)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return NewUser("", zone, env, body), nil
}

// Get implements Client.
func (c *HTTPClient) Get(ctx context.Context, primaryID, zone, env string) (*User, error) {
	query := url.Values{
		"view":   {"full"},
		"expand": {"none"},
	}
	body, err := c.do(ctx, http.MethodGet, zone, env, userPath(primaryID), query, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user %s: %w", primaryID, err)
	}
	return NewUser(primaryID, zone, env, body), nil
}

// Update implements Client.
func (c *HTTPClient) Update(ctx context.Context, u *User) error {
	query := url.Values{
		"user_id_type":           {"all_unique"},
		"send_pin_number_letter": {"false"},
		"recalculate_roles":      {"false"},
	}
	body, err := c.do(ctx, http.MethodPut, u.Zone, u.Env, userPath(u.PrimaryID), query, u.data)
	if err != nil {
		return fmt.Errorf("failed to update user %s: %w", u.PrimaryID, err)
	}
	if len(body) > 0 {
		u.data = body
	}
	return nil
}

// Delete implements Client.
func (c *HTTPClient) Delete(ctx context.Context, primaryID, zone, env string) error {
	if _, err := c.do(ctx, http.MethodDelete, zone, env, userPath(primaryID), nil, nil); err != nil {
		return fmt.Errorf("failed to delete user %s: %w", primaryID, err)
	}
	return nil
}

func userPath(primaryID string) string {
	return "/users/" + url.PathEscape(primaryID)
}

// do sends one request and returns the response body of a 2xx answer.
func (c *HTTPClient) do(ctx context.Context, method, zone, env, path string, query url.Values, payload []byte) ([]byte, error) {
	key, err := c.keys(zone, env)
	if err != nil {
		return nil, err
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "apikey "+key)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, parseAPIError(resp.StatusCode, body)
	}
	return body, nil
}

// parseAPIError extracts the first error of an Alma error answer.
func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status}

	first := gjson.GetBytes(body, "errorList.error.0")
	if first.Exists() {
		apiErr.Code = first.Get("errorCode").String()
		apiErr.Message = first.Get("errorMessage").String()
		return apiErr
	}

	apiErr.Message = strings.TrimSpace(string(body))
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}
