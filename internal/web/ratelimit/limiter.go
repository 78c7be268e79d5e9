// Package ratelimit throttles repeated attempts per key, such as token
// requests for one username from one address.
package ratelimit

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Limiter counts attempts per key within a fixed window
type Limiter interface {
	// Allow records one attempt for key and reports whether it may proceed
	Allow(ctx context.Context, key string) (*Decision, error)
	// Reset forgets the attempts of key, typically after a successful login
	Reset(ctx context.Context, key string) error
}

// Decision is the state of a key after an attempt
type Decision struct {
	// Limit is the number of attempts allowed per window
	Limit int
	// Remaining is the number of attempts left in the current window
	Remaining int
	// RetryAfter is the time until the window resets
	RetryAfter time.Duration
	// Allowed reports whether the attempt may proceed
	Allowed bool
}

// RetryAfterHeader formats RetryAfter as whole seconds, rounded up
func (d *Decision) RetryAfterHeader() string {
	secs := int64((d.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}

// Config holds the window shared by limiter implementations
type Config struct {
	// Limit is the maximum number of attempts per window
	Limit int
	// Window is the length of a window
	Window time.Duration
}

// DefaultConfig allows 10 attempts per minute
func DefaultConfig() Config {
	return Config{Limit: 10, Window: time.Minute}
}

// LoginKey keys attempts by client address and username
func LoginKey(r *http.Request, username string) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "login:" + host + ":" + strings.ToLower(username)
}
