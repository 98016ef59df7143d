package session

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"strings"

	"tunet/internal/transport"
)

// LogOnOptions tune a LogOn call
type LogOnOptions struct {
	// CheckLink probes general connectivity first and skips the gateway when
	// the probe already succeeds
	CheckLink bool
}

// LogOn makes sure the network is usable: it returns early when the client is
// already online and otherwise posts the credentials to the gateway.
//
// IsOnline is set from the outcome unless the call is cancelled, in which
// case the context error is returned and IsOnline is left as it was.
func (s *Session) LogOn(ctx context.Context, opts LogOnOptions) error {
	if err := acquire(ctx, s.loggingOn); err != nil {
		return err
	}
	defer func() { <-s.loggingOn }()

	h, err := transport.New(s.httpOpts)
	if err != nil {
		return &Error{Kind: KindConnect, Err: err}
	}
	defer h.Release()

	err = s.logOn(ctx, h, opts)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if err != nil {
		s.setOnline(false)
		return err
	}
	s.setOnline(true)
	return nil
}

func (s *Session) logOn(ctx context.Context, h *transport.Handle, opts LogOnOptions) error {
	if opts.CheckLink && s.endpoints.Probe != "" {
		if s.linkAvailable(ctx, h) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	body, err := h.PostForm(ctx, s.endpoints.LogOn, url.Values{"action": {"check_online"}})
	if err != nil {
		return failure(ctx, err)
	}
	if isOnlineReply(body) {
		return nil
	}

	body, err = h.PostForm(ctx, s.endpoints.LogOn, url.Values{
		"action":   {"login"},
		"username": {s.username},
		"password": {"{MD5_HEX}" + s.passwordMD5},
		"type":     {"1"},
		"ac_id":    {"1"},
		"mac":      {s.currentMac.String()},
	})
	if err != nil {
		return failure(ctx, err)
	}
	return classifyLogOn(body)
}

// linkAvailable reports whether the probe URL answers with its marker. A
// captive portal typically answers the probe with its own login page.
func (s *Session) linkAvailable(ctx context.Context, h *transport.Handle) bool {
	status, body, err := h.Probe(ctx, s.endpoints.Probe)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("Link probe failed: %v", err)
		}
		return false
	}
	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		return false
	}
	return s.endpoints.ProbeMarker == "" || strings.Contains(body, s.endpoints.ProbeMarker)
}
