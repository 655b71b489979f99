package zabbixapi

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-version"
)

var (
	// user.login takes "username" instead of "user"
	usernameParamSince = version.Must(version.NewVersion("5.4"))
	// Authorization header accepted; the auth field was dropped in 7.2
	bearerAuthSince = version.Must(version.NewVersion("6.4"))
)

// parseVersion reads an apiinfo.version answer. Pre-release suffixes
// ("7.0.0rc1") are dropped so they compare equal to the release.
func parseVersion(raw string) (*version.Version, error) {
	v, err := version.NewVersion(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("unexpected api version %q: %w", raw, err)
	}
	return v.Core(), nil
}

// atLeast reports whether the detected frontend version is >= floor
func (c *Client) atLeast(floor *version.Version) bool {
	if c.apiVersion == nil {
		return false
	}
	return c.apiVersion.GreaterThanOrEqual(floor)
}
