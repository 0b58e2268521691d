// Package remote talks to the hosted table backend over its REST interface
// and provides the sync handlers for each action kind.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/virtuallab/labsync/internal/config"
	apperrors "github.com/virtuallab/labsync/internal/errors"
	"github.com/virtuallab/labsync/internal/logging"
)

const restPrefix = "/rest/v1/"

// maxErrorBody caps how much of a failed response is kept in the error.
const maxErrorBody = 512

// Client is a REST client for the table backend.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewClient creates a client from cfg.
func NewClient(cfg config.RemoteConfig, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Get()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger.With(map[string]interface{}{"component": "remote"}),
	}
}

// Insert writes one row into table. With upsert set, an existing row with
// the same key is merged, so the last write wins.
func (c *Client) Insert(ctx context.Context, table string, row json.RawMessage, upsert bool) error {
	req, err := c.newRequest(ctx, http.MethodPost, table, nil, bytes.NewReader(row))
	if err != nil {
		return err
	}
	prefer := "return=minimal"
	if upsert {
		prefer = "resolution=merge-duplicates," + prefer
	}
	req.Header.Set("Prefer", prefer)

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Select reads the rows of table matching query.
func (c *Client) Select(ctx context.Context, table string, query url.Values) (json.RawMessage, error) {
	req, err := c.newRequest(ctx, http.MethodGet, table, query, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrRemoteTransient, "failed to read "+table, err)
	}
	if !json.Valid(body) {
		return nil, apperrors.New(apperrors.ErrRemoteTransient, "malformed response from "+table)
	}
	return body, nil
}

func (c *Client) newRequest(ctx context.Context, method, table string, query url.Values, body io.Reader) (*http.Request, error) {
	if c.baseURL == "" {
		return nil, apperrors.New(apperrors.ErrConfig, "remote base_url is not configured")
	}
	u := c.baseURL + restPrefix + url.PathEscape(table)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "failed to build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

// do sends req and converts every failure into a classified AppError. The
// caller closes the body of a successful response.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		classified := classifyTransport(err)
		c.logger.Debug("Remote request failed", map[string]interface{}{
			"method": req.Method,
			"path":   req.URL.Path,
			"code":   string(apperrors.CodeOf(classified)),
			"error":  err.Error(),
		})
		return nil, classified
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	classified := classifyStatus(resp.StatusCode, strings.TrimSpace(string(body)))
	c.logger.Debug("Remote request rejected", map[string]interface{}{
		"method": req.Method,
		"path":   req.URL.Path,
		"status": resp.StatusCode,
		"code":   string(apperrors.CodeOf(classified)),
	})
	return nil, classified
}

// classifyStatus maps a non-2xx response onto the failure taxonomy.
func classifyStatus(status int, body string) error {
	cause := fmt.Errorf("status %d: %s", status, body)
	switch {
	case status >= 500,
		status == http.StatusTooManyRequests,
		status == http.StatusRequestTimeout:
		return apperrors.Wrap(apperrors.ErrRemoteTransient, "remote temporarily failed", cause)
	}
	return apperrors.Wrap(apperrors.ErrRemoteRejected, "remote rejected the request", cause)
}

// classifyTransport separates "could not reach the service at all" from
// failures partway through an exchange.
func classifyTransport(err error) error {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && !dnsErr.IsTimeout {
		return apperrors.Wrap(apperrors.ErrNetworkUnreachable, "remote host not found", err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" && !opErr.Timeout() {
		return apperrors.Wrap(apperrors.ErrNetworkUnreachable, "remote unreachable", err)
	}
	return apperrors.Wrap(apperrors.ErrRemoteTransient, "remote request failed", err)
}
