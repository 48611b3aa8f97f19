// Package appid resolves the panelsim app identity. An external
// .fulmen/app.yaml or FULMEN_APP_IDENTITY_PATH wins; the embedded copy keeps
// standalone binaries working.
package appid

import (
	"context"

	"github.com/fulmenhq/gofulmen/appidentity"

	appidentityassets "github.com/panelsim/panelsim/internal/assets/appidentity"
)

// DefaultEnvPrefix is used when no identity can be resolved.
const DefaultEnvPrefix = "PANELSIM_"

func init() {
	_ = appidentity.RegisterEmbeddedIdentityYAML(appidentityassets.YAML)
}

// Get returns the process app identity.
func Get(ctx context.Context) (*appidentity.Identity, error) {
	return appidentity.Get(ctx)
}

// EnvPrefix returns the identity env prefix, always ending in "_".
func EnvPrefix(identity *appidentity.Identity) string {
	if identity == nil || identity.EnvPrefix == "" {
		return DefaultEnvPrefix
	}
	if identity.EnvPrefix[len(identity.EnvPrefix)-1] != '_' {
		return identity.EnvPrefix + "_"
	}
	return identity.EnvPrefix
}
