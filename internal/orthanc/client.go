// Package orthanc reads DICOM instances from an Orthanc server over its REST API.
package orthanc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tphakala/imaging-churn/internal/conf"
	"github.com/tphakala/imaging-churn/internal/errors"
	"github.com/tphakala/imaging-churn/internal/logger"
)

const (
	DefaultTimeout = 30 * time.Second

	// MaxInstanceBytes caps a downloaded DICOM file.
	MaxInstanceBytes = 512 << 20

	userAgent = "imaging-churn"
)

// ErrNotFound is returned when Orthanc answers 404.
var ErrNotFound = errors.NewStd("orthanc resource not found")

// Client talks to one Orthanc server.
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
	log        logger.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithBasicAuth sets HTTP basic credentials.
func WithBasicAuth(username, password string) Option {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

// WithHTTPClient replaces the HTTP client, for instance with an instrumented one.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient creates a client for baseURL. A zero timeout uses DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.Newf("invalid orthanc url %q", baseURL).
			Component("orthanc").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c := &Client{
		baseURL:    u.String(),
		httpClient: newHTTPClient(timeout),
		log:        GetLogger().With(logger.String("url", u.Redacted())),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewClientFromSettings creates a client from the orthanc config section.
func NewClientFromSettings(settings conf.OrthancSettings) (*Client, error) {
	var opts []Option
	if settings.Username != "" {
		opts = append(opts, WithBasicAuth(settings.Username, settings.Password))
	}
	return NewClient(settings.URL, settings.Timeout, opts...)
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          20,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: timeout,
		},
	}
}

// HTTPClient returns the underlying client.
func (c *Client) HTTPClient() *http.Client { return c.httpClient }

// get issues a GET for path and returns the response when the status is 200.
// The caller closes the body.
func (c *Client) get(ctx context.Context, path, accept string) (*http.Response, error) {
	target := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request to %s: %w", path, err)
	}
	req.Header.Set("User-Agent", userAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.New(fmt.Errorf("GET %s: %w", path, err)).
			Component("orthanc").
			Category(errors.CategoryNetwork).
			NetworkContext(path, c.httpClient.Timeout).
			Timing("orthanc_get", time.Since(start)).
			Build()
	}

	if resp.StatusCode == http.StatusOK {
		c.log.Debug("orthanc request",
			logger.String("path", path),
			logger.Duration("duration", time.Since(start)))
		return resp, nil
	}

	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode == http.StatusNotFound {
		return nil, errors.New(fmt.Errorf("%w: %s", ErrNotFound, path)).
			Component("orthanc").
			Category(errors.CategoryNotFound).
			Build()
	}
	return nil, errors.Newf("orthanc returned status %d for %s: %s", resp.StatusCode, path, strings.TrimSpace(string(body))).
		Component("orthanc").
		Category(errors.CategoryHTTP).
		Context("status", resp.StatusCode).
		Build()
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	resp, err := c.get(ctx, path, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return errors.New(fmt.Errorf("decode %s: %w", path, err)).
			Component("orthanc").
			Category(errors.CategoryFileParsing).
			Build()
	}
	return nil
}

// ListInstances returns the Orthanc identifiers of all stored instances.
func (c *Client) ListInstances(ctx context.Context) ([]string, error) {
	var ids []string
	if err := c.getJSON(ctx, "/instances", &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// ListStudyInstances returns the instance identifiers of one study.
func (c *Client) ListStudyInstances(ctx context.Context, studyID string) ([]string, error) {
	if studyID == "" {
		return nil, errors.ValidationError("study id is required")
	}
	var instances []struct {
		ID string `json:"ID"`
	}
	if err := c.getJSON(ctx, "/studies/"+url.PathEscape(studyID)+"/instances", &instances); err != nil {
		return nil, err
	}
	ids := make([]string, len(instances))
	for i, inst := range instances {
		ids[i] = inst.ID
	}
	return ids, nil
}

// GetInstanceFile downloads the raw DICOM file of an instance.
func (c *Client) GetInstanceFile(ctx context.Context, instanceID string) ([]byte, error) {
	if instanceID == "" {
		return nil, errors.ValidationError("instance id is required")
	}
	resp, err := c.get(ctx, "/instances/"+url.PathEscape(instanceID)+"/file", "application/dicom")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxInstanceBytes+1))
	if err != nil {
		return nil, errors.New(fmt.Errorf("read instance %s: %w", instanceID, err)).
			Component("orthanc").
			Category(errors.CategoryNetwork).
			Build()
	}
	if len(data) > MaxInstanceBytes {
		return nil, errors.Newf("instance %s exceeds %d bytes", instanceID, MaxInstanceBytes).
			Component("orthanc").
			Category(errors.CategoryValidation).
			Build()
	}
	return data, nil
}

// GetInstanceSimplifiedTags returns the string valued tags of an instance
// keyed by tag name. Sequences and other nested values are omitted.
func (c *Client) GetInstanceSimplifiedTags(ctx context.Context, instanceID string) (map[string]string, error) {
	if instanceID == "" {
		return nil, errors.ValidationError("instance id is required")
	}
	var raw map[string]any
	if err := c.getJSON(ctx, "/instances/"+url.PathEscape(instanceID)+"/simplified-tags", &raw); err != nil {
		return nil, err
	}
	tags := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			tags[k] = s
		}
	}
	return tags, nil
}
