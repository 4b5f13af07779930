package branding

import (
	"embed"
	"net/http"
)

// Files contains the branding assets embedded into the binary.
//
//go:embed style.css
var Files embed.FS

// Handler serves Files; mount it under /branding/.
func Handler() http.Handler {
	return http.StripPrefix("/branding/", http.FileServer(http.FS(Files)))
}
