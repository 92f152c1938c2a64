package bulkbrev

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

var ErrNotFound = errors.New("email request not found")

func NewClient(host string) *Client {
	host = strings.TrimRight(host, "/")
	return &Client{
		host: host,
		http: resty.New().
			SetBaseURL(host).
			SetHeader("Content-Type", "application/json").
			SetTimeout(90 * time.Second),
	}
}

type Client struct {
	host string
	http *resty.Client
}

// APIError is the json error body of the bulkbrev api
type APIError struct {
	Code    int    `json:"-"`
	Err     string `json:"error"`
	Message string `json:"message"`
	Details []struct {
		Field   string `json:"field"`
		Message string `json:"message"`
	} `json:"details"`
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d %s", e.Code, e.Err)
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	for _, d := range e.Details {
		fmt.Fprintf(&b, "; %s: %s", d.Field, d.Message)
	}
	return b.String()
}

// SendBulk submits a bulk job, the returned receipt holds the id to poll for status
func (c *Client) SendBulk(ctx context.Context, req BulkRequest) (BulkReceipt, error) {
	var r BulkReceipt
	apiErr := &APIError{}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&r).
		SetError(apiErr).
		Post("/api/send-bulk-email")
	if err != nil {
		return BulkReceipt{}, err
	}
	if resp.IsError() {
		apiErr.Code = resp.StatusCode()
		return BulkReceipt{}, apiErr
	}
	return r, nil
}

// Send sends one email synchronously
func (c *Client) Send(ctx context.Context, req SingleRequest) (SingleReceipt, error) {
	var r SingleReceipt
	apiErr := &APIError{}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&r).
		SetError(apiErr).
		Post("/api/send-email")
	if err != nil {
		return SingleReceipt{}, err
	}
	if resp.IsError() {
		apiErr.Code = resp.StatusCode()
		return SingleReceipt{}, apiErr
	}
	return r, nil
}

// Status fetches the current state of a job. A wait > 0 makes the server hold the request until the job
// is done or the wait has passed.
func (c *Client) Status(ctx context.Context, requestId string, wait time.Duration) (Job, error) {
	var j Job
	apiErr := &APIError{}
	r := c.http.R().
		SetContext(ctx).
		SetResult(&j).
		SetError(apiErr)
	if wait > 0 {
		r.SetQueryParam("wait", wait.String())
	}
	resp, err := r.Get("/api/email-status/" + url.PathEscape(requestId))
	if err != nil {
		return Job{}, err
	}
	if resp.StatusCode() == http.StatusNotFound {
		return Job{}, fmt.Errorf("%s: %w", requestId, ErrNotFound)
	}
	if resp.IsError() {
		apiErr.Code = resp.StatusCode()
		return Job{}, apiErr
	}
	return j, nil
}
