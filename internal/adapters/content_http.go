package adapters

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"packlink/internal/ports"
)

// ContentDownloader fetches entry bytes over http(s) with retries, or from
// the local disk for file:// URLs.
type ContentDownloader struct {
	client retryingClient
}

func NewContentDownloader(options HTTPOptions) ContentDownloader {
	return ContentDownloader{client: newRetryingClient(options)}
}

func (d ContentDownloader) Download(ctx context.Context, rawURL string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || parsed.Scheme == "" {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("invalid download url").
			WithCause(err)
	}
	switch parsed.Scheme {
	case "file":
		data, err := os.ReadFile(parsed.Path)
		if err != nil {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeNotFound).
				WithMsg("download source not found").
				WithCause(err)
		}
		return data, nil
	case "http", "https":
	default:
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("unsupported download scheme: " + parsed.Scheme)
	}
	target := parsed.String()
	body, status, err := d.client.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	})
	if err != nil {
		return nil, err
	}
	if status != nil {
		return nil, statusError(status, target, "download failed")
	}
	return body, nil
}

var _ ports.ContentPort = ContentDownloader{}
