//go:build !profile

package prof

import "net/http"

// Enabled reports whether the binary was built with the "profile" tag.
const Enabled = false

// Session is a no-op when built without the "profile" tag.
type Session struct{}

// Start validates cfg and returns a session that captures nothing.
func Start(cfg Config) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Session{}, nil
}

// Stop is a no-op when built without the "profile" tag.
func (*Session) Stop() error {
	return nil
}

// Register is a no-op when built without the "profile" tag.
func Register(*http.ServeMux) {}
