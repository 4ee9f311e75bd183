package aggregator

/*
secagg — client for aggregating security metadata about domain names
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

/*
Package aggregator talks to the remote aggregation service and defines the
per-domain result model it returns.

The backend combines BuiltWith, VirusTotal and MXToolbox lookups per domain;
this package only transports domain lists to it and decodes the answer. One
call to Aggregate is exactly one POST carrying the whole list.
*/

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/x-stp/secagg/internal/client"
	"github.com/x-stp/secagg/internal/metrics"
)

// Backend endpoints, relative to the configured base URL.
const (
	AggregatePath     = "/aggregate"
	AggregateFilePath = "/aggregate-file"
	HealthPath        = "/health"
)

// maxErrorBody caps how much of a failed response body is kept for logging.
const maxErrorBody = 512

// UserAgent is sent with every request; cmd/secagg appends the build version.
var UserAgent = "secagg"

// Client issues requests against one aggregation backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient returns a Client for baseURL (e.g. "http://127.0.0.1:8000").
// A nil httpClient selects the shared client from internal/client.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = client.GetHTTPClient()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// BaseURL returns the backend base URL without trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Aggregate submits the full domain list in a single POST /aggregate and
// returns the result records in backend order.
func (c *Client) Aggregate(ctx context.Context, domains []string) ([]Item, error) {
	body, err := json.Marshal(AggregateRequest{Domains: domains})
	if err != nil {
		return nil, fmt.Errorf("encoding aggregate request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+AggregatePath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building aggregate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doAggregate(req, AggregatePath)
}

// AggregateFile uploads a domain file to POST /aggregate-file and lets the
// backend split it.
func (c *Client) AggregateFile(ctx context.Context, name string, r io.Reader) ([]Item, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, fmt.Errorf("building upload: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("building upload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+AggregateFilePath, &buf)
	if err != nil {
		return nil, fmt.Errorf("building upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.doAggregate(req, AggregateFilePath)
}

// Health calls GET /health and fails unless the backend answers {"ok": true}.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+HealthPath, nil)
	if err != nil {
		return fmt.Errorf("building health request: %w", err)
	}
	resp, err := c.do(req, HealthPath)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var health struct {
		OK bool `json:"ok"`
	}
	if err := decodeBody(resp.Body, &health); err != nil {
		return &Error{Kind: KindMalformedResponse, Err: err}
	}
	if !health.OK {
		return &Error{Kind: KindMalformedResponse, Err: fmt.Errorf("backend reported ok=false")}
	}
	return nil
}

func (c *Client) doAggregate(req *http.Request, endpoint string) ([]Item, error) {
	resp, err := c.do(req, endpoint)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out AggregateResponse
	if err := decodeBody(resp.Body, &out); err != nil {
		metrics.GetMetrics().RecordRequestError(endpoint, KindMalformedResponse.String())
		return nil, &Error{Kind: KindMalformedResponse, Err: err}
	}
	if out.Results == nil {
		out.Results = []Item{}
	}
	return out.Results, nil
}

// decodeBody decodes exactly one JSON value from r into v. Anything but
// whitespace after that value is an error.
func decodeBody(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		if err == nil {
			err = errors.New("unexpected data after response body")
		}
		return fmt.Errorf("trailing data: %w", err)
	}
	return nil
}

// do sends req and returns the response only for 2xx statuses. Every other
// outcome is turned into an *Error and the body is closed.
func (c *Client) do(req *http.Request, endpoint string) (*http.Response, error) {
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("X-Request-ID", requestID)

	m := metrics.GetMetrics()
	done := metrics.MeasureDuration(m.NetworkRequestDuration, map[string]string{"endpoint": endpoint})
	resp, err := c.httpClient.Do(req)
	done()
	if err != nil {
		log.Printf("Request %s %s (id %s) failed: %v", req.Method, endpoint, requestID, err)
		m.RecordRequest(endpoint, 0, KindTransport.String())
		return nil, &Error{Kind: KindTransport, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		log.Printf("Request %s %s (id %s) returned HTTP %d: %s", req.Method, endpoint, requestID, resp.StatusCode, strings.TrimSpace(string(snippet)))
		m.RecordRequest(endpoint, resp.StatusCode, KindTransport.String())
		return nil, &Error{Kind: KindTransport, StatusCode: resp.StatusCode}
	}

	m.RecordRequest(endpoint, resp.StatusCode, "")
	return resp, nil
}
