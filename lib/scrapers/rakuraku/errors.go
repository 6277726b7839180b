package rakuraku

import "errors"

var (
	// ErrInvalidAuth means the login form did not land on the ordering page,
	// callers should ask the user to re-enter their credentials.
	ErrInvalidAuth = errors.New("rakuraku: authentication failed")
	// ErrSessionExpired is reported by the portal through the js_status marker.
	// It is only returned to callers joined with ErrInvalidAuth, after the one
	// re-authentication attempt did not help.
	ErrSessionExpired = errors.New("rakuraku: session expired")
	// ErrTransport wraps network failures and non-2xx responses.
	ErrTransport = errors.New("rakuraku: request failed")
	// ErrParse means a page or payload did not have the expected structure.
	ErrParse = errors.New("rakuraku: unexpected response structure")
	// ErrClosed is returned by requests made after Close.
	ErrClosed = errors.New("rakuraku: client closed")
)
