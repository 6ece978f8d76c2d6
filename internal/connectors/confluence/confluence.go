// Package confluence is a config-schema-and-rate-limit-only skeleton
// illustrating a second, richer connector shape (§4.1.1): it declares the
// same config fields and author-image cache as a real Confluence client
// would, and validates reachability over HTTP, but does not ship page
// crawling or HTML-to-text conversion — out of scope per spec's Non-goals.
// Grounded on original_source/app/data_sources/confluence.py's ConfigField
// list and its 1s user-image-fetch timeout.
package confluence

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/kadirpekel/corpussearch/internal/connector"
	"github.com/kadirpekel/corpussearch/internal/connectors/imagecache"
	"github.com/kadirpekel/corpussearch/internal/model"
)

// userImageFetchTimeout bounds each author-profile-picture lookup, kept
// tight since it runs once per document on the happy path.
const userImageFetchTimeout = 1 * time.Second

// Connector is the confluence skeleton data source.
type Connector struct {
	httpClient *http.Client
	imageCache *imagecache.Cache[string, string]
}

// New constructs the confluence connector class.
func New() *Connector {
	return &Connector{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		imageCache: imagecache.New[string, string](imagecache.DefaultCapacity),
	}
}

func (c *Connector) Name() string        { return "confluence" }
func (c *Connector) DisplayName() string { return "Confluence" }

func (c *Connector) DescribeConfigSchema() []model.ConfigField {
	return []model.ConfigField{
		{Name: "url", InputKind: model.InputText, Label: "Confluence URL", Placeholder: "https://example.atlassian.net/wiki"},
		{Name: "token", InputKind: model.InputPassword, Label: "Personal Access Token"},
	}
}

// ValidateConfig confirms the given URL/token pair can reach Confluence's
// space-listing endpoint with one request. Missing fields, a malformed
// URL, 401/403 and other 4xx responses are InvalidConfig; network
// failures and 5xx responses are TransientError.
func (c *Connector) ValidateConfig(ctx context.Context, config map[string]string) error {
	baseURL, token := config["url"], config["token"]
	if baseURL == "" || token == "" {
		return model.NewInvalidConfig("url and token are both required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/rest/api/space", nil)
	if err != nil {
		return model.NewInvalidConfig("malformed url: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.NewTransientError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return model.NewInvalidConfig("confluence rejected the token (status %d)", resp.StatusCode)
	}
	if resp.StatusCode >= 500 {
		return model.NewTransientError(fmt.Errorf("confluence returned status %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return model.NewInvalidConfig("confluence returned status %d", resp.StatusCode)
	}
	return nil
}

// ListLocations is unimplemented for the skeleton: a real client would
// return one entry per space.
func (c *Connector) ListLocations(_ context.Context, _ map[string]string) ([]model.Location, error) {
	return nil, nil
}

func (c *Connector) HasPrerequisites() bool { return false }

// RateLimit matches the original client's retry-on-connection-failure
// posture: a conservative steady request rate to avoid tripping
// Confluence's own throttling.
func (c *Connector) RateLimit() float64 { return 5 }

// Dispatch only implements feed_new_documents, and reports that page
// crawling is not implemented in this skeleton rather than pretending to
// succeed.
func (c *Connector) Dispatch(_ context.Context, _ *connector.Runtime, methodName string, _ map[string]string) error {
	switch methodName {
	case "feed_new_documents":
		return model.NewKnownError("confluence: page crawling is not implemented in this build")
	default:
		return fmt.Errorf("confluence: unknown method %q", methodName)
	}
}

// resolveAuthorImageURL looks up a cached author-image URL, fetching and
// caching it on miss. Exercises imagecache and the tight 1s timeout; a
// real client would resolve this via the author's profile-picture path.
func (c *Connector) resolveAuthorImageURL(ctx context.Context, baseURL, accountID string) (string, error) {
	if url, ok := c.imageCache.Get(accountID); ok {
		return url, nil
	}

	ctx, cancel := context.WithTimeout(ctx, userImageFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/rest/api/user?accountId=%s", baseURL, accountID), nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", model.NewTransientError(err)
	}
	defer resp.Body.Close()

	url := fmt.Sprintf("%s/wiki/aa-avatar/%s", baseURL, accountID)
	c.imageCache.Put(accountID, url)
	return url, nil
}
