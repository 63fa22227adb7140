// Package naclient is the console's client for its backend API. Every call
// carries the stored session token as a bearer token, and every response is
// expected in the API's standard envelope like:
//
//	{"code": 200, "data": {...}, "message": "ok"}
//
// Failures are announced to the operator through a notifier as well as being
// returned. A 401 from the API ends the session.
package naclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/brandur/neoadmin/internal/nanotify"
	"github.com/brandur/neoadmin/internal/nasession"
	"github.com/brandur/neoadmin/internal/util/stringutil"
)

const (
	// CodeOK is the envelope code signaling success.
	CodeOK = 200

	DefaultTimeout = 10 * time.Second
)

const (
	MessageConfigError         = "Request configuration error"
	MessageForbidden           = "No permission to access"
	MessageNetworkError        = "Network error, please check your connection"
	MessageNotFound            = "Requested resource does not exist"
	MessageRequestFailed       = "Request failed"
	MessageRequestFailedStatus = "Request failed, please try again later"
	MessageServerError         = "Server error, please try again later"
)

// ConfigError is returned when a request couldn't be built, including when a
// request interceptor rejected it.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return "request could not be built: " + e.Err.Error() }
func (e *ConfigError) Unwrap() error { return e.Err }

// NetworkError is returned when no response was received.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return "no response received: " + e.Err.Error() }
func (e *NetworkError) Unwrap() error { return e.Err }

// EnvelopeError is returned when the API responds successfully at the HTTP
// level, but with an envelope code other than CodeOK.
type EnvelopeError struct {
	Code    int
	Message string
}

func (e *EnvelopeError) Error() string { return e.Message }

// StatusError is returned for non-2xx HTTP responses.
type StatusError struct {
	Body       string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API responded with status %d: %s", e.StatusCode, stringutil.SampleLong(e.Body))
}

type Envelope struct {
	Code    int             `json:"code"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// Invalidator ends the session when the API reports it's no longer valid.
type Invalidator interface {
	Invalidate(ctx context.Context, reason nasession.Reason) error
}

// RequestInterceptor may modify a request before it's sent. Returning an error
// aborts the request.
type RequestInterceptor func(r *http.Request) error

type Client struct {
	baseURL      *url.URL
	httpClient   *http.Client
	interceptors []RequestInterceptor
	invalidator  Invalidator
	logger       *logrus.Logger
	notifier     nanotify.Notifier
}

func NewClient(logger *logrus.Logger, baseURL string, notifier nanotify.Notifier, invalidator Invalidator) (*Client, error) { //nolint:lll
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, xerrors.Errorf("error parsing base url %q: %w", baseURL, err)
	}

	return &Client{
		baseURL:     parsed,
		httpClient:  &http.Client{Timeout: DefaultTimeout},
		invalidator: invalidator,
		logger:      logger,
		notifier:    notifier,
	}, nil
}

// Use adds a request interceptor. Interceptors run in the order they were
// added.
func (c *Client) Use(interceptor RequestInterceptor) {
	c.interceptors = append(c.interceptors, interceptor)
}

func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPut, path, body, out)
}

func (c *Client) Patch(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPatch, path, body, out)
}

func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodDelete, path, nil, out)
}

// Do sends a request to path (relative to the client's base URL) with body
// encoded as JSON if it's non-nil, and decodes the envelope's data into out if
// it's non-nil.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	r, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		c.notifier.Notify(nanotify.LevelError, MessageConfigError)
		return &ConfigError{Err: err}
	}

	resp, err := c.httpClient.Do(r)
	if err != nil {
		c.notifier.Notify(nanotify.LevelError, MessageNetworkError)
		return &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.notifier.Notify(nanotify.LevelError, MessageNetworkError)
		return &NetworkError{Err: xerrors.Errorf("error reading response body: %w", err)}
	}

	c.logger.WithFields(logrus.Fields{
		"http_method": method,
		"http_path":   r.URL.Path,
		"status":      resp.StatusCode,
	}).Debugf("naclient: %s %s -> %d", method, r.URL.Path, resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.handleStatus(ctx, resp.StatusCode, respBody)
	}

	var envelope Envelope
	if err := json.Unmarshal(respBody, &envelope); err != nil || envelope.Code != CodeOK {
		message := envelope.Message
		if message == "" {
			message = MessageRequestFailed
		}

		c.notifier.Notify(nanotify.LevelError, message)
		return &EnvelopeError{Code: envelope.Code, Message: message}
	}

	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return xerrors.Errorf("error decoding response data: %w", err)
		}
	}

	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, xerrors.Errorf("error encoding request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	r, err := http.NewRequestWithContext(ctx, method, c.baseURL.JoinPath(strings.TrimPrefix(path, "/")).String(), bodyReader)
	if err != nil {
		return nil, xerrors.Errorf("error creating request: %w", err)
	}

	r.Header.Set("Accept", "application/json")
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}

	for _, interceptor := range c.interceptors {
		if err := interceptor(r); err != nil {
			return nil, err
		}
	}

	return r, nil
}

func (c *Client) handleStatus(ctx context.Context, statusCode int, body []byte) error {
	switch statusCode {
	case http.StatusUnauthorized:
		// The session owns the notification and the trip back to login. A 401
		// while already logged out stays silent.
		if err := c.invalidator.Invalidate(ctx, nasession.ReasonUnauthorized); err != nil {
			c.logger.Errorf("naclient: Error invalidating session: %v", err)
		}

	case http.StatusForbidden:
		c.notifier.Notify(nanotify.LevelError, MessageForbidden)

	case http.StatusNotFound:
		c.notifier.Notify(nanotify.LevelError, MessageNotFound)

	case http.StatusInternalServerError:
		c.notifier.Notify(nanotify.LevelError, MessageServerError)

	default:
		c.notifier.Notify(nanotify.LevelError, MessageRequestFailedStatus)
	}

	return &StatusError{Body: string(body), StatusCode: statusCode}
}

// IsStatus reports whether err is a StatusError with the given status code.
func IsStatus(err error, statusCode int) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == statusCode
}
