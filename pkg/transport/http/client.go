package httptransport

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-resty/resty/v2"

	oerrors "github.com/porthorian/consoleauth/pkg/errors"
	"github.com/porthorian/consoleauth/pkg/session"
)

const (
	DefaultAPIPrefix = "/api/v1"
	DefaultTimeout   = 5 * time.Second

	loginPath    = "/admin/login"
	logoutPath   = "/admin/logout"
	registerPath = "/admin/register"
)

type ClientConfig struct {
	// BaseURL is the admin API root, e.g. "https://shop.example.com/api/v1".
	BaseURL string
	Timeout time.Duration
	Logger  logr.Logger
	// HTTPClient replaces the underlying client, for tests or custom TLS.
	HTTPClient *http.Client
}

type Credentials struct {
	Username     string `json:"username"`
	PasswordHash string `json:"passwordHash"`
}

type apiError struct {
	Message string `json:"message"`
}

// Client talks to the admin API's account endpoints. Cookies set by the
// server are kept and replayed.
type Client struct {
	rest   *resty.Client
	logger logr.Logger
}

func NewClient(config ClientConfig) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(config.BaseURL), "/")
	if baseURL == "" {
		return nil, oerrors.New(oerrors.CodeInvalidConfig, "httptransport: base url is required")
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	logger := config.Logger
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}

	var rest *resty.Client
	if config.HTTPClient != nil {
		rest = resty.NewWithClient(config.HTTPClient)
	} else {
		rest = resty.New()
	}
	if rest.GetClient().Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("httptransport: cookie jar: %w", err)
		}
		rest.SetCookieJar(jar)
	}

	rest.
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		rest:   rest,
		logger: logger.WithName("transport"),
	}, nil
}

func (c *Client) Login(ctx context.Context, credentials Credentials) (session.LoginResult, error) {
	var result session.LoginResult
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(credentials).
		SetResult(&result).
		SetError(&apiError{}).
		Post(loginPath)
	if err := c.failure("login", resp, err); err != nil {
		return session.LoginResult{}, err
	}

	c.logger.V(1).Info("login accepted", "username", credentials.Username, "status", resp.StatusCode())
	return result, nil
}

func (c *Client) Logout(ctx context.Context, accessToken string) error {
	req := c.rest.R().
		SetContext(ctx).
		SetError(&apiError{})
	if accessToken != "" {
		req.SetAuthToken(accessToken)
	}

	resp, err := req.Post(logoutPath)
	return c.failure("logout", resp, err)
}

// Register forwards fields as the registration body.
func (c *Client) Register(ctx context.Context, fields map[string]any) error {
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(fields).
		SetError(&apiError{}).
		Post(registerPath)
	return c.failure("register", resp, err)
}

// failure turns a transport error or non-2xx response into a
// CodeTransportFailure carrying the most specific message available.
func (c *Client) failure(operation string, resp *resty.Response, err error) error {
	if err != nil {
		c.logger.Info("request failed", "operation", operation, "error", err.Error())
		return oerrors.Wrap(oerrors.CodeTransportFailure, messageOr(err.Error()), err)
	}
	if !resp.IsError() {
		return nil
	}

	message := ""
	if apiErr, ok := resp.Error().(*apiError); ok && apiErr != nil {
		message = apiErr.Message
	}
	if message == "" {
		message = fmt.Sprintf("request failed with status code %d", resp.StatusCode())
	}

	c.logger.Info("request rejected", "operation", operation, "status", resp.StatusCode(), "message", message)
	return oerrors.New(oerrors.CodeTransportFailure, message)
}

func messageOr(message string) string {
	if strings.TrimSpace(message) == "" {
		return "unknown error"
	}
	return message
}
