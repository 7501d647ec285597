package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/dshot92/TUI-Blender-Fetcher/internal/models"

	goversion "github.com/hashicorp/go-version"
	log "github.com/sirupsen/logrus"
)

// Custom Error Types
var (
	ErrTimeout     = errors.New("catalog request timed out")
	ErrHttpStatus  = errors.New("unexpected HTTP status from catalog")
	ErrParse       = errors.New("failed to parse catalog response")
	ErrBadCutoff   = errors.New("invalid version cutoff")
	ErrUnreachable = errors.New("failed to connect to the build catalog")
)

// CatalogBaseUrl is the daily-builds listing of the official builder.
const CatalogBaseUrl = "https://builder.blender.org/download/daily/?format=json&v=1"

const userAgent = "blender-fetcher/1.0 (+https://github.com/dshot92/TUI-Blender-Fetcher)"

// Archive extensions we know how to extract. Checksum files and installers
// are filtered out before they reach the reconciler.
var allowedExtensions = map[string]bool{
	"zip": true, "tar.gz": true, "tar.xz": true, "tar.bz2": true, "xz": true,
}

// Client fetches build descriptors from the catalog.
type Client struct {
	HttpClient *http.Client
	BaseUrl    string
}

// NewClient creates a catalog client. A nil httpClient gets a default with
// the configured timeout.
func NewClient(httpClient *http.Client, cfg models.Config) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: time.Duration(cfg.FetchTimeoutSec) * time.Second}
	}
	return &Client{
		HttpClient: httpClient,
		BaseUrl:    CatalogBaseUrl,
	}
}

// FetchBuilds retrieves the catalog and returns the builds matching the
// current platform/architecture, an extractable archive extension, and the
// minimum-version cutoff (of form "MAJOR.MINOR"; empty disables the cutoff).
func (c *Client) FetchBuilds(ctx context.Context, cutoff string) ([]models.RemoteBuild, error) {
	var minVersion *goversion.Version
	if cutoff != "" {
		var err error
		minVersion, err = goversion.NewVersion(cutoff)
		if err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrBadCutoff, cutoff, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseUrl, nil)
	if err != nil {
		return nil, fmt.Errorf("creating catalog request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	log.Debugf("Fetching build catalog from %s", c.BaseUrl)
	resp, err := c.HttpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %d %s", ErrHttpStatus, resp.StatusCode, resp.Status)
	}

	var all []models.RemoteBuild
	if err := json.NewDecoder(resp.Body).Decode(&all); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	platform, arch := CatalogPlatform()

	var filtered []models.RemoteBuild
	for _, build := range all {
		if build.Platform != platform || build.Architecture != arch {
			continue
		}
		if !allowedExtensions[strings.ToLower(build.FileExtension)] {
			continue
		}
		if minVersion != nil {
			bv, err := goversion.NewVersion(build.Version)
			if err != nil {
				// Unparseable version cannot be shown to meet the cutoff.
				log.Debugf("Skipping build with unparseable version %q", build.Version)
				continue
			}
			if bv.LessThan(minVersion) {
				continue
			}
		}
		filtered = append(filtered, build)
	}

	log.Infof("Catalog returned %d builds, %d match %s/%s >= %s",
		len(all), len(filtered), platform, arch, cutoff)
	return filtered, nil
}

// CatalogPlatform maps runtime.GOOS/GOARCH to the platform and architecture
// names the catalog uses. The API reports linux/darwin x86_64 for amd64, but
// keeps Go's own name on windows.
func CatalogPlatform() (platform, arch string) {
	platform = runtime.GOOS
	arch = runtime.GOARCH

	switch runtime.GOOS {
	case "linux", "darwin":
		if arch == "amd64" {
			arch = "x86_64"
		}
	case "windows":
		// amd64 and arm64 match the catalog names already.
	}
	return platform, arch
}
