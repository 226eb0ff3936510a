package ccm

import "crypto/rand"

// CookieSize includes a terminator slot; cookies hold CookieSize-1 chars.
const CookieSize = 16

const (
	cookieFirst = '!'
	cookieSpan  = '~' - '!' + 1
)

// NewCookie returns a random printable membership cookie.
func NewCookie() string {
	buf := make([]byte, CookieSize-1)
	if _, err := rand.Read(buf); err != nil {
		invariantf("reading random cookie: %v", err)
	}
	for i, b := range buf {
		buf[i] = cookieFirst + b%cookieSpan
	}
	return string(buf)
}
