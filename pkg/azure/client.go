// Package azure talks to the Azure DevOps work tracking REST API.
package azure

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://dev.azure.com"
	DefaultRate    = 10.0
	DefaultBurst   = 5

	defaultTimeout = 30 * time.Second
	acceptHeader   = "application/json; api-version=5.0"
	patchType      = "application/json-patch+json"
)

// Options configures a Client. HTTPClient must already carry credentials.
type Options struct {
	Organization string
	Project      string
	Team         string

	BaseURL    string
	HTTPClient *http.Client
	Rate       float64 // requests per second
	Burst      int
	Logger     *zap.Logger
}

// Client is an Azure DevOps REST client scoped to one project and team.
type Client struct {
	baseURL    string
	projectURL string
	teamURL    string
	org        string
	project    string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *zap.Logger
}

// NewClient returns a client for opts.Organization and opts.Project.
func NewClient(opts Options) (*Client, error) {
	if opts.Organization == "" || opts.Project == "" {
		return nil, fmt.Errorf("organization and project are required")
	}

	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	limit := opts.Rate
	if limit <= 0 {
		limit = DefaultRate
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = DefaultBurst
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	project := base + "/" + url.PathEscape(opts.Organization) + "/" + url.PathEscape(opts.Project)
	team := project
	if opts.Team != "" {
		team += "/" + url.PathEscape(opts.Team)
	}

	return &Client{
		baseURL:    base,
		projectURL: project + "/_apis/",
		teamURL:    team + "/_apis/",
		org:        opts.Organization,
		project:    opts.Project,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(limit), burst),
		log:        logger,
	}, nil
}

// WorkItemURL is the browser link to a work item.
func (c *Client) WorkItemURL(id int) string {
	return c.baseURL + "/" + url.PathEscape(c.org) + "/" + url.PathEscape(c.project) +
		"/_workitems/edit/" + strconv.Itoa(id)
}

// StatusError is returned for any response other than 200 OK.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	msg := e.Body
	var apiErr struct {
		Message string `json:"message"`
	}
	if json.Unmarshal([]byte(e.Body), &apiErr) == nil && apiErr.Message != "" {
		msg = apiErr.Message
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Code, msg)
}

type request struct {
	method      string
	url         string
	query       url.Values
	body        any
	contentType string
}

func (c *Client) do(ctx context.Context, r request, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter error: %w", err)
	}

	target := r.url
	if len(r.query) > 0 {
		target += "?" + r.query.Encode()
	}

	var body io.Reader
	if r.body != nil {
		data, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, target, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", acceptHeader)
	if r.body != nil {
		ct := r.contentType
		if ct == "" {
			ct = "application/json"
		}
		req.Header.Set("Content-Type", ct)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", r.method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	c.log.Debug("azure request",
		zap.String("method", r.method),
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Method: r.method, Path: req.URL.Path, Code: resp.StatusCode, Body: string(data)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
