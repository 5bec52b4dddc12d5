package firmware

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"
)

const (
	releaseFeedPath     = "/tasmota/release/release.php"
	developmentFeedPath = "/tasmota/development.php"
)

// ErrBadFeed marks an OTA feed that could not be parsed. Callers degrade
// to local or direct-URL images when the catalog is unavailable.
var ErrBadFeed = fmt.Errorf("malformed firmware feed")

// BinaryInfo is one downloadable image in a feed.
type BinaryInfo struct {
	Binary   string `json:"binary"`
	Filesize int64  `json:"filesize"`
	OTAURL   string `json:"otaurl"`
}

// VersionGroup lists the images published for one firmware version.
type VersionGroup struct {
	Version  string
	Binaries []BinaryInfo
}

// Catalog fetches the published firmware lists from an OTA server.
type Catalog struct {
	baseURL string
	client  *http.Client
}

// NewCatalog points at an OTA server, e.g. http://ota.tasmota.com.
func NewCatalog(baseURL string) *Catalog {
	return &Catalog{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Release lists stable firmware builds.
func (c *Catalog) Release(ctx context.Context) ([]VersionGroup, error) {
	return c.fetch(ctx, releaseFeedPath)
}

// Development lists current development builds.
func (c *Catalog) Development(ctx context.Context) ([]VersionGroup, error) {
	return c.fetch(ctx, developmentFeedPath)
}

func (c *Catalog) fetch(ctx context.Context, path string) ([]VersionGroup, error) {
	url := c.baseURL + path
	slog.Info("feed_fetch_started", "url", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building feed request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		slog.Error("feed_fetch_failed", "url", url, "error", err)
		return nil, fmt.Errorf("fetching feed %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Error("feed_bad_status", "url", url, "status", resp.StatusCode)
		return nil, fmt.Errorf("feed %s: unexpected status %d", url, resp.StatusCode)
	}

	var raw map[string][]BinaryInfo
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		slog.Error("feed_parse_failed", "url", url, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrBadFeed, err)
	}

	groups := make([]VersionGroup, 0, len(raw))
	for version, binaries := range raw {
		groups = append(groups, VersionGroup{Version: version, Binaries: binaries})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Version < groups[j].Version })

	slog.Info("feed_fetch_complete", "url", url, "versions", len(groups))
	return groups, nil
}
