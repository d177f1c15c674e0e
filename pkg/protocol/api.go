// Package protocol defines the library server request/response types.
package protocol

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Details string `json:"details,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Libraries int    `json:"libraries"`
}

// LibraryInfo describes one library root exposed by the server.
type LibraryInfo struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	Indexed bool   `json:"indexed"`
}

// LibrariesResponse is returned by GET /api/v1/libraries.
type LibrariesResponse struct {
	Libraries []LibraryInfo `json:"libraries"`
}

// TokenResponse is printed by the token command.
type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}
