package version

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	goversion "github.com/hashicorp/go-version"
)

const (
	releasesAPI = "https://api.github.com/repos/shuttlefile/shuttle/releases/latest"

	// The release lookup is cached in the user's home directory so at most
	// one request per day hits GitHub.
	cacheFileName = "version_cache.json"
	cacheDuration = 24 * time.Hour

	fetchTimeout = 3 * time.Second
)

type releaseCache struct {
	LatestVersion string    `json:"latestVersion"`
	CheckedAt     time.Time `json:"checkedAt"`
}

// CheckForUpdate reports the latest released version and whether it is newer
// than this build. Dev builds and lookup failures both report no update; an
// update check must never break the command running it.
func CheckForUpdate(ctx context.Context) (latest string, available bool, err error) {
	if Version == "dev" {
		return "", false, nil
	}

	tag, ok := cachedRelease()
	if !ok {
		tag, err = fetchLatestRelease(ctx)
		if err != nil {
			slog.Debug("Release lookup failed", "error", err)
			return "", false, nil
		}
		storeRelease(tag)
	}

	current, err := goversion.NewVersion(strings.TrimPrefix(Version, "v"))
	if err != nil {
		return tag, false, fmt.Errorf("invalid build version %q: %w", Version, err)
	}
	remote, err := goversion.NewVersion(strings.TrimPrefix(tag, "v"))
	if err != nil {
		return tag, false, fmt.Errorf("invalid release tag %q: %w", tag, err)
	}
	return tag, remote.GreaterThan(current), nil
}

func fetchLatestRelease(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, releasesAPI, nil)
	if err != nil {
		return "", err
	}
	// GitHub rejects requests without a User-Agent.
	req.Header.Set("User-Agent", "shuttle-cli")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close() //nolint:errcheck // Deferred close, error not actionable

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("release API returned status %d", resp.StatusCode)
	}

	var release struct {
		TagName string `json:"tag_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return "", err
	}
	return release.TagName, nil
}

func cacheFilePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".shuttle", cacheFileName), nil
}

func cachedRelease() (string, bool) {
	path, err := cacheFilePath()
	if err != nil {
		return "", false
	}
	data, err := os.ReadFile(path) //nolint:gosec // Cache file in the user's home directory
	if err != nil {
		return "", false
	}

	var cache releaseCache
	if err := json.Unmarshal(data, &cache); err != nil {
		return "", false
	}
	if time.Since(cache.CheckedAt) > cacheDuration {
		return "", false
	}
	return cache.LatestVersion, true
}

// storeRelease writes the cache best-effort; a missing cache only costs an
// extra request tomorrow.
func storeRelease(tag string) {
	path, err := cacheFilePath()
	if err != nil {
		return
	}
	data, err := json.Marshal(releaseCache{LatestVersion: tag, CheckedAt: time.Now()})
	if err != nil {
		return
	}
	_ = os.MkdirAll(filepath.Dir(path), 0o755)
	_ = os.WriteFile(path, data, 0o644) //nolint:gosec // Not a secret
}

// PrintUpdateNotification nudges the user on stderr when a newer release
// exists. Honors the skip-version-check config flag.
func PrintUpdateNotification(ctx context.Context, skipVersionCheck bool) {
	if skipVersionCheck {
		return
	}

	latest, available, err := CheckForUpdate(ctx)
	if err != nil || !available {
		return
	}

	fmt.Fprintf(os.Stderr, "\n⚠️  A new version of shuttle is available: %s (you have %s)\n", latest, Version)
	fmt.Fprintf(os.Stderr, "Update with:\n  curl -fsSL https://shuttlefile.dev/install.sh | sh\n\n")
}
