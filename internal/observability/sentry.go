package observability

import (
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
)

var sensitiveHeaders = []string{"Authorization", "Cookie", "Set-Cookie"}

// InitSentry is a no-op when dsn is empty.
func InitSentry(dsn, environment, release string) error {
	if strings.TrimSpace(dsn) == "" {
		return nil
	}

	return sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		Release:          release,
		AttachStacktrace: true,
		BeforeSend:       scrubEvent,
	})
}

func FlushSentry() {
	sentry.Flush(2 * time.Second)
}

// scrubEvent drops credentials (bearer tokens and session cookies) from
// request data attached to an event.
func scrubEvent(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	if event == nil || event.Request == nil {
		return event
	}
	event.Request.Cookies = ""
	for _, name := range sensitiveHeaders {
		for key := range event.Request.Headers {
			if http.CanonicalHeaderKey(key) == name {
				delete(event.Request.Headers, key)
			}
		}
	}
	if event.Request.Data != "" {
		event.Request.Data = "[filtered]"
	}
	return event
}
