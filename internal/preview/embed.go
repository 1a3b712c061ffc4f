// ABOUTME: Embeds preview page templates into the binary using go:embed
// ABOUTME: Provides templateFS for rendering at request time

package preview

import "embed"

//go:embed templates/*.html
var templateFS embed.FS
