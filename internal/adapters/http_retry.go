package adapters

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"packlink/internal/shared"
)

const defaultHTTPRetries = 3
const defaultHTTPRetryDelay = 200 * time.Millisecond
const defaultHTTPTimeout = 60 * time.Second
const maxHTTPRetryDelay = 2 * time.Second

// maxResponseBytes bounds bodies read from catalogs, content hosts and peers.
const maxResponseBytes = 512 << 20

// HTTPOptions configures timeouts and the bounded retry loop shared by the
// HTTP adapters.
type HTTPOptions struct {
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
}

func NewHTTPOptions(timeoutSec int, retries int, retryDelayMs int) HTTPOptions {
	return HTTPOptions{
		Timeout:    normalizeHTTPTimeout(timeoutSec),
		Retries:    normalizeHTTPRetries(retries),
		RetryDelay: normalizeHTTPRetryDelay(retryDelayMs),
	}
}

// httpStatus carries a non-2xx status through the retry loop.
type httpStatus struct {
	Code int
	Body []byte
}

// retryingClient issues requests and retries transport errors, 5xx and 429
// responses with exponential backoff.
type retryingClient struct {
	client  *http.Client
	options HTTPOptions
}

func newRetryingClient(options HTTPOptions) retryingClient {
	if options.Timeout <= 0 {
		options.Timeout = defaultHTTPTimeout
	}
	if options.Retries <= 0 {
		options.Retries = defaultHTTPRetries
	}
	if options.RetryDelay <= 0 {
		options.RetryDelay = defaultHTTPRetryDelay
	}
	return retryingClient{client: &http.Client{Timeout: options.Timeout}, options: options}
}

// Do runs build for every attempt so request bodies can be replayed. A
// non-2xx final response is returned as httpStatus without an error so
// callers can map 404s.
func (c retryingClient) Do(ctx context.Context, build func(ctx context.Context) (*http.Request, error)) ([]byte, *httpStatus, error) {
	var lastErr error
	for attempt := 0; attempt < c.options.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		req, err := build(ctx)
		if err != nil {
			return nil, nil, errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("failed to create request").
				WithCause(err)
		}
		retry, body, status, err := c.doOnce(req)
		if err == nil && (status == nil || !retryableStatus(status.Code)) {
			return body, status, nil
		}
		if err == nil {
			err = errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("request failed").
				WithCause(shared.HTTPStatusErrorWithBody(status.Code, req.URL.String(), string(status.Body)))
			retry = true
		}
		lastErr = err
		if !retry || attempt == c.options.Retries-1 {
			break
		}
		delay := c.retryDelay(attempt)
		log.Ctx(ctx).Debug().Err(err).Int("attempt", attempt+1).Dur("delay", delay).Str("url", req.URL.String()).Msg("retrying request")
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, nil, lastErr
}

func (c retryingClient) doOnce(req *http.Request) (bool, []byte, *httpStatus, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return false, nil, nil, req.Context().Err()
		}
		return true, nil, nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("request failed").
			WithCause(err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return true, nil, nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to read response").
			WithCause(err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return false, body, nil, nil
	}
	return false, nil, &httpStatus{Code: resp.StatusCode, Body: body}, nil
}

func (c retryingClient) retryDelay(attempt int) time.Duration {
	delay := c.options.RetryDelay * time.Duration(1<<attempt)
	if delay > maxHTTPRetryDelay {
		delay = maxHTTPRetryDelay
	}
	jitter := time.Duration(time.Now().UnixNano() % int64(delay/2+1))
	return delay + jitter
}

func retryableStatus(code int) bool {
	return code >= http.StatusInternalServerError || code == http.StatusTooManyRequests
}

func statusError(status *httpStatus, url string, msg string) error {
	code := errbuilder.CodeInternal
	switch status.Code {
	case http.StatusNotFound:
		code = errbuilder.CodeNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		code = errbuilder.CodePermissionDenied
	case http.StatusBadRequest:
		code = errbuilder.CodeInvalidArgument
	case http.StatusConflict, http.StatusPreconditionFailed:
		code = errbuilder.CodeFailedPrecondition
	}
	return errbuilder.New().
		WithCode(code).
		WithMsg(msg).
		WithCause(shared.HTTPStatusErrorWithBody(status.Code, url, string(status.Body)))
}

func normalizeHTTPTimeout(value int) time.Duration {
	timeout := time.Duration(value) * time.Second
	if timeout <= 0 {
		return defaultHTTPTimeout
	}
	return timeout
}

func normalizeHTTPRetries(value int) int {
	if value <= 0 {
		return defaultHTTPRetries
	}
	return value
}

func normalizeHTTPRetryDelay(value int) time.Duration {
	delay := time.Duration(value) * time.Millisecond
	if delay <= 0 {
		return defaultHTTPRetryDelay
	}
	return delay
}
