package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"packlink/internal/ports"
	"packlink/internal/types"
)

// CatalogHTTPProvider reads a static JSON catalog served over HTTP:
//
//	<base>/<provider>/projects/<project id>.json  -> CatalogProject
//	<base>/<provider>/versions/<version id>.json  -> ProviderVersion
type CatalogHTTPProvider struct {
	BaseURL string
	client  retryingClient
}

func NewCatalogHTTPProvider(baseURL string, options HTTPOptions) CatalogHTTPProvider {
	return CatalogHTTPProvider{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  newRetryingClient(options),
	}
}

func (p CatalogHTTPProvider) ListVersions(ctx context.Context, provider types.Provider, projectID string, query types.VersionQuery) ([]types.ProviderVersion, error) {
	var project types.CatalogProject
	if err := p.getJSON(ctx, p.documentURL(provider, "projects", projectID), "project not found: "+projectID, &project); err != nil {
		return nil, err
	}
	versions := make([]types.ProviderVersion, 0, len(project.Versions))
	for _, version := range project.Versions {
		if version.Name == "" {
			version.Name = project.Name
		}
		versions = append(versions, version)
	}
	return versions, nil
}

func (p CatalogHTTPProvider) Dependencies(ctx context.Context, provider types.Provider, versionID string) ([]string, error) {
	var version types.ProviderVersion
	if err := p.getJSON(ctx, p.documentURL(provider, "versions", versionID), "version not found: "+versionID, &version); err != nil {
		return nil, err
	}
	return version.Dependencies, nil
}

func (p CatalogHTTPProvider) documentURL(provider types.Provider, kind string, id string) string {
	return fmt.Sprintf("%s/%s/%s/%s.json",
		p.BaseURL,
		url.PathEscape(string(types.NormalizeProvider(provider))),
		kind,
		url.PathEscape(strings.ToLower(strings.TrimSpace(id))),
	)
}

func (p CatalogHTTPProvider) getJSON(ctx context.Context, target string, notFound string, out interface{}) error {
	if p.BaseURL == "" {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("catalog url is empty")
	}
	body, status, err := p.client.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return err
	}
	if status != nil {
		return statusError(status, target, notFound)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("invalid catalog response").
			WithCause(err)
	}
	return nil
}

var _ ports.ProviderPort = CatalogHTTPProvider{}
