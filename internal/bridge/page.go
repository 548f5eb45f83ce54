package bridge

import _ "embed"

// PageHTML is the bridge page served at /jpint. Its inline script is the
// browser rendition of the Controller machine, using the same delays, guard
// flags and beacon endpoints.
//
//go:embed assets/bridge.html
var PageHTML []byte
