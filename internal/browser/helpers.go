package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"heatbot/internal/heat"
)

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// classifyError buckets CDP and page errors for logs and traces.
func classifyError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "deadline exceeded"), strings.Contains(msg, "timeout"), strings.Contains(msg, "Timeout"):
		return "timeout"
	case strings.Contains(msg, "net::ERR_"), strings.Contains(msg, "connection refused"), strings.Contains(msg, "websocket"):
		return "network"
	case strings.Contains(msg, "Cannot find context"), strings.Contains(msg, "Node is detached"),
		strings.Contains(msg, "No node with given id"):
		return "detached"
	case strings.Contains(msg, "ReferenceError"), strings.Contains(msg, "TypeError"), strings.Contains(msg, "SyntaxError"):
		return "script"
	}
	return "unknown"
}

// navigationError wraps a page failure as retryable, keeping its bucket in the message.
func navigationError(op string, err error) error {
	return heat.Transient(fmt.Errorf("%s (%s): %w", op, classifyError(err), err))
}

func toCookieParams(base *url.URL, cookies []*http.Cookie) []*proto.NetworkCookieParam {
	out := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		if c == nil || c.Name == "" {
			continue
		}
		p := &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HttpOnly,
		}
		if c.Domain != "" {
			p.Domain = c.Domain
		} else {
			p.URL = base.String()
		}
		if !c.Expires.IsZero() {
			p.Expires = proto.TimeSinceEpoch(c.Expires.Unix())
		}
		out = append(out, p)
	}
	return out
}

func toHTTPCookies(raw []*proto.NetworkCookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(raw))
	for _, c := range raw {
		if c == nil {
			continue
		}
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		if !c.Session && c.Expires > 0 {
			hc.Expires = time.Unix(int64(c.Expires), 0).UTC()
		}
		out = append(out, hc)
	}
	return out
}
