// Package remote talks to the ingestion service over HTTP.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"time"

	"github.com/imroc/req/v3"

	"github.com/justapithecus/backfill/sender"
	"github.com/justapithecus/backfill/types"
)

const (
	v1Records = "/api/v1/runs/{entity}/{project}/{run}/records"
	v1Files   = "/api/v1/runs/{entity}/{project}/{run}/files/{name}"
	v1Viewer  = "/api/v1/viewer"
)

// ErrNoAPIURL is returned when the client is built without a base URL.
var ErrNoAPIURL = errors.New("remote: api url missing")

// UserAgent identifies this tool to the service.
var UserAgent = fmt.Sprintf("backfill/%s (%s; %s)", types.Version, runtime.GOOS, runtime.GOARCH)

// Config configures a Client.
type Config struct {
	// APIURL is the service base URL (required).
	APIURL string
	// APIKey is sent as a bearer token when set.
	APIKey string
	// Timeout bounds each request. Zero means 30s.
	Timeout time.Duration
	// Retries is the number of retries after the first attempt.
	Retries int
}

// APIError is an error body returned by the service.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
	Status  int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (%d): %s - %s", e.Status, e.Code, e.Message)
}

// Client is the HTTP implementation of sender.Sink and of the viewer lookup.
type Client struct {
	client *req.Client
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.APIURL == "" {
		return nil, ErrNoAPIURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	c := req.C().
		SetBaseURL(cfg.APIURL).
		SetTimeout(cfg.Timeout).
		SetUserAgent(UserAgent).
		SetCommonErrorResult(&APIError{}).
		SetCommonRetryCount(cfg.Retries).
		SetCommonRetryBackoffInterval(500*time.Millisecond, 5*time.Second).
		SetCommonRetryCondition(func(resp *req.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		})
	if cfg.APIKey != "" {
		c.SetCommonBearerAuthToken(cfg.APIKey)
	}

	return &Client{client: c}, nil
}

type recordsRequest struct {
	Records []*types.Record `json:"records"`
}

// WriteRecords posts a batch of records for run.
func (c *Client) WriteRecords(ctx context.Context, run *types.RunRecord, recs []*types.Record) error {
	if len(recs) == 0 {
		return nil
	}
	body := recordsRequest{Records: recs}

	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParams(runParams(run)).
		SetBody(&body).
		Post(v1Records)
	return handleAPIError(resp, err, "write records")
}

// PutFile uploads one run file. Uploads are not retried: the body is
// streamed and cannot be replayed.
func (c *Client) PutFile(ctx context.Context, run *types.RunRecord, name string, body io.Reader, size int64, contentType string) error {
	params := runParams(run)
	params["name"] = name

	r := c.client.R().
		SetContext(ctx).
		SetPathParams(params).
		SetRetryCount(0).
		SetHeader("Content-Type", contentType).
		SetBody(body)
	if size >= 0 {
		r.SetHeader("X-Content-Size", fmt.Sprint(size))
	}
	resp, err := r.Put(v1Files)
	return handleAPIError(resp, err, "put file "+name)
}

// Viewer returns the identity behind the API key.
func (c *Client) Viewer(ctx context.Context) (*types.Viewer, error) {
	var viewer types.Viewer
	resp, err := c.client.R().
		SetContext(ctx).
		SetSuccessResult(&viewer).
		Get(v1Viewer)
	if err := handleAPIError(resp, err, "viewer"); err != nil {
		return nil, err
	}
	if viewer.Entity == "" {
		return nil, fmt.Errorf("viewer: response has no entity")
	}
	return &viewer, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.client.GetClient().CloseIdleConnections()
	return nil
}

func runParams(run *types.RunRecord) map[string]string {
	if run == nil {
		run = &types.RunRecord{}
	}
	return map[string]string{
		"entity":  run.Entity,
		"project": run.Project,
		"run":     run.RunID,
	}
}

func handleAPIError(resp *req.Response, requestErr error, operation string) error {
	if requestErr != nil {
		return fmt.Errorf("http request error: %s: %w", operation, requestErr)
	}
	if resp.IsErrorState() {
		if apiErr, ok := resp.ErrorResult().(*APIError); ok && (apiErr.Code != "" || apiErr.Message != "") {
			apiErr.Status = resp.StatusCode
			return fmt.Errorf("%s: %w", operation, apiErr)
		}
		return fmt.Errorf("%s: %w", operation, &APIError{Status: resp.StatusCode, Code: "E_HTTP", Message: resp.Status})
	}
	return nil
}

var _ sender.Sink = (*Client)(nil)
