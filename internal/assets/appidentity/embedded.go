// Package appidentityassets embeds the app identity for binaries run outside
// the repository.
package appidentityassets

import _ "embed"

// YAML mirrors .fulmen/app.yaml.
//
//go:embed app.yaml
var YAML []byte
