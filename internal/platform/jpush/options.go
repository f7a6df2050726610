// Package jpush sends notifications through the JPush v3 REST API and resolves their
// delivery later through the report API.
package jpush

import (
	"encoding/base64"
	"net/http"
	"time"

	"github.com/tinywideclouds/go-push-router/internal/batch"
)

const (
	// Platform is the registry key the service binds this sender to.
	Platform = "jpush"

	DefaultPushURL   = "https://api.jpush.cn/v3/push"
	DefaultReportURL = "https://report.jpush.cn/v3/status/message"

	// DefaultMaxEndpoints is the vendor limit of registration ids per call.
	DefaultMaxEndpoints = 1000
	DefaultTimeout      = 10 * time.Second
)

// Credentials authenticate against the JPush API.
type Credentials struct {
	AppKey       string
	MasterSecret string
}

func (c Credentials) header() http.Header {
	h := make(http.Header)
	token := base64.StdEncoding.EncodeToString([]byte(c.AppKey + ":" + c.MasterSecret))
	h.Set("Authorization", "Basic "+token)
	h.Set("Content-Type", "application/json")
	return h
}

type options struct {
	pushURL      string
	reportURL    string
	maxEndpoints int
	concurrency  int
	timeout      time.Duration
	platform     string
}

func defaultOptions() options {
	return options{
		pushURL:      DefaultPushURL,
		reportURL:    DefaultReportURL,
		maxEndpoints: DefaultMaxEndpoints,
		concurrency:  batch.DefaultConcurrency,
		timeout:      DefaultTimeout,
		platform:     Platform,
	}
}

// Option configures a Sender or a Resolver.
type Option func(*options)

// WithMaxEndpoints overrides the per-call registration id cap. Values <= 0 are ignored.
func WithMaxEndpoints(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxEndpoints = n
		}
	}
}

// WithConcurrency bounds the number of chunk calls in flight.
func WithConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithTimeout sets the deadline of each vendor call.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func WithPushURL(url string) Option {
	return func(o *options) {
		if url != "" {
			o.pushURL = url
		}
	}
}

func WithReportURL(url string) Option {
	return func(o *options) {
		if url != "" {
			o.reportURL = url
		}
	}
}

// WithPlatform sets the platform key whose deferred endpoints a Resolver picks up.
func WithPlatform(key string) Option {
	return func(o *options) {
		if key != "" {
			o.platform = key
		}
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
