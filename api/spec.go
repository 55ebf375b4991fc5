// Package api embeds the HTTP API description used for request validation.
package api

import _ "embed"

//go:embed openapi.yaml
var OpenAPI []byte
