package ports

import (
	"context"

	"packlink/internal/types"
)

// ProviderPort lists versions of a single project and the required
// dependencies of a version. Implementations return a CodeNotFound error for
// unknown projects.
type ProviderPort interface {
	ListVersions(ctx context.Context, provider types.Provider, projectID string, query types.VersionQuery) ([]types.ProviderVersion, error)
	Dependencies(ctx context.Context, provider types.Provider, versionID string) ([]string, error)
}

// ContentPort downloads the bytes behind a provider download URL.
type ContentPort interface {
	Download(ctx context.Context, url string) ([]byte, error)
}
