package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	mflog "github.com/dukex/mediaflow/pkg/log"
	"github.com/dukex/mediaflow/pkg/models"
	"github.com/dukex/mediaflow/pkg/template"
	json "github.com/goccy/go-json"
)

const (
	defaultHTTPTimeout       = 30 * time.Second
	defaultStatusProperty    = "http.status"
	maxResponseBodyProperty  = 64 * 1024
	defaultHTTPRetryAttempts = 1
)

var (
	// ErrHTTPRequestURLInvalid is returned when the operation has no usable url.
	ErrHTTPRequestURLInvalid = errors.New("invalid HTTP request url")
	// ErrHTTPMethodInvalid is returned when the HTTP method is invalid.
	ErrHTTPMethodInvalid = errors.New("invalid HTTP method")
	// ErrHTTPServerError is returned when the server keeps answering with a 5xx status.
	ErrHTTPServerError = errors.New("server error during HTTP request")
	// ErrHTTPStatus is returned for 4xx responses.
	ErrHTTPStatus = errors.New("unexpected HTTP status")
)

// HTTPRequestHandler calls an HTTP endpoint. url, headers and body are rendered
// against the workflow; the response status is stored in the workflow
// configuration under status-property, the body under body-property if set.
type HTTPRequestHandler struct {
	Base

	client *http.Client
}

func NewHTTPRequestHandler(client *http.Client) *HTTPRequestHandler {
	if client == nil {
		client = &http.Client{}
	}

	return &HTTPRequestHandler{client: client}
}

type httpRequest struct {
	Method         string
	URL            string
	Headers        map[string]string
	Body           string
	Timeout        time.Duration
	Attempts       int
	Delay          time.Duration
	StatusProperty string
	BodyProperty   string
}

func (h *HTTPRequestHandler) Start(ctx context.Context, wi *models.WorkflowInstance, op *models.OperationInstance) (*models.OperationResult, error) {
	req, err := parseHTTPRequest(wi, op)
	if err != nil {
		return nil, err
	}

	logger := mflog.FromContext(ctx).With("handler", HTTPRequestTemplate, "method", req.Method, "url", req.URL)
	logger.InfoContext(ctx, "Executing HTTP request")

	attempt := 0

	operation := func() (*httpResponse, error) {
		attempt++
		if attempt > 1 {
			logger.InfoContext(ctx, "Retrying HTTP request", "attempt", attempt, "attempts", req.Attempts)
		}

		resp, err := h.do(ctx, req)
		if err != nil {
			return nil, err
		}

		switch {
		case resp.StatusCode >= http.StatusInternalServerError:
			return nil, fmt.Errorf("%w: status %d", ErrHTTPServerError, resp.StatusCode)
		case resp.StatusCode >= http.StatusBadRequest:
			return nil, backoff.Permanent(fmt.Errorf("%w: status %d", ErrHTTPStatus, resp.StatusCode))
		}

		return resp, nil
	}

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(req.Delay)),
		backoff.WithMaxTries(uint(req.Attempts)),
	)
	if err != nil {
		return nil, fmt.Errorf("http request to %s failed after %d attempts: %w", req.URL, attempt, err)
	}

	logger.InfoContext(ctx, "HTTP request completed", "status", resp.StatusCode, "body_length", len(resp.Body))

	properties := map[string]string{
		req.StatusProperty: strconv.Itoa(resp.StatusCode),
	}

	if req.BodyProperty != "" {
		properties[req.BodyProperty] = resp.Body
	}

	return models.Continue(properties), nil
}

type httpResponse struct {
	StatusCode int
	Body       string
}

func (h *HTTPRequestHandler) do(ctx context.Context, req *httpRequest) (*httpResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	var body io.Reader
	if req.Body != "" {
		body = strings.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create http request: %w", err))
	}

	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyProperty))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &httpResponse{StatusCode: resp.StatusCode, Body: string(data)}, nil
}

func parseHTTPRequest(wi *models.WorkflowInstance, op *models.OperationInstance) (*httpRequest, error) {
	req := &httpRequest{
		Method:         strings.ToUpper(op.Config("method")),
		Headers:        make(map[string]string),
		Timeout:        defaultHTTPTimeout,
		Attempts:       defaultHTTPRetryAttempts,
		StatusProperty: op.Config("status-property"),
		BodyProperty:   op.Config("body-property"),
	}

	if req.Method == "" {
		req.Method = http.MethodGet
	}

	if strings.ContainsAny(req.Method, " \t\r\n") {
		return nil, fmt.Errorf("%w: %q", ErrHTTPMethodInvalid, req.Method)
	}

	if req.StatusProperty == "" {
		req.StatusProperty = defaultStatusProperty
	}

	url, err := template.RenderOperation(op.Config("url"), wi, op)
	if err != nil {
		return nil, fmt.Errorf("invalid url template: %w", err)
	}

	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, fmt.Errorf("%w: %q", ErrHTTPRequestURLInvalid, url)
	}

	req.URL = url

	req.Body, err = template.RenderOperation(op.Config("body"), wi, op)
	if err != nil {
		return nil, fmt.Errorf("invalid body template: %w", err)
	}

	if raw := op.Config("headers"); raw != "" {
		var headers map[string]string

		err := json.Unmarshal([]byte(raw), &headers)
		if err != nil {
			return nil, fmt.Errorf("invalid headers: %w", err)
		}

		for key, value := range headers {
			rendered, err := template.RenderOperation(value, wi, op)
			if err != nil {
				return nil, fmt.Errorf("invalid header '%s' template: %w", key, err)
			}

			req.Headers[key] = rendered
		}
	}

	if raw := op.Config("timeout"); raw != "" {
		req.Timeout, err = time.ParseDuration(raw)
		if err != nil || req.Timeout <= 0 {
			return nil, fmt.Errorf("invalid timeout %q", raw)
		}
	}

	if raw := op.Config("retry-attempts"); raw != "" {
		req.Attempts, err = strconv.Atoi(raw)
		if err != nil || req.Attempts < 1 {
			return nil, fmt.Errorf("invalid retry-attempts %q", raw)
		}
	}

	if raw := op.Config("retry-delay"); raw != "" {
		req.Delay, err = time.ParseDuration(raw)
		if err != nil || req.Delay < 0 {
			return nil, fmt.Errorf("invalid retry-delay %q", raw)
		}
	}

	return req, nil
}

// Schema returns the JSON schema of the operation configuration.
func (h *HTTPRequestHandler) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "The URL to send the HTTP request to. Supports templating with the workflow.",
				"examples": []string{
					"https://api.example.com/mediapackages/{{.mediapackage.id}}",
				},
			},
			"method": map[string]any{
				"type":    "string",
				"default": "GET",
				"enum":    []string{"GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS"},
			},
			"headers": map[string]any{
				"type":        "string",
				"description": "JSON object of HTTP headers. Values support templating.",
			},
			"body": map[string]any{
				"type":        "string",
				"description": "Request body. Supports templating.",
			},
			"timeout":         map[string]any{"type": "string", "description": "Timeout per attempt, e.g. 30s"},
			"retry-attempts":  map[string]any{"type": "string", "pattern": "^[1-9][0-9]*$"},
			"retry-delay":     map[string]any{"type": "string", "description": "Delay between attempts, e.g. 500ms"},
			"status-property": map[string]any{"type": "string"},
			"body-property":   map[string]any{"type": "string"},
		},
		"required":             []string{"url"},
		"additionalProperties": false,
	}
}
