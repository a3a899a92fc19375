// Package tracking implements the event-write contract for opens and
// clicks (spec.md §1: "tracking (opens, clicks)"; §3's Tracking Link type;
// Non-goals: "the tracking pixel/redirect endpoints (only their
// event-write contract is specified)"). This package does not serve a
// pixel GIF or perform the redirect itself — it issues the signed token a
// pixel/redirect collaborator embeds, and records the event once that
// collaborator reports back.
//
// Grounded on the teacher's internal/auth package for the
// sign-a-compact-token-then-verify-it-on-the-way-back shape, switched from
// session cookies to per-link claims; JWT library choice follows
// Jeffreasy-LaventeCareAuthSystems' use of golang-jwt/jwt/v5 for the same
// kind of short-lived signed claim.
package tracking

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ignite/relay/internal/domain"
	"github.com/ignite/relay/internal/repository/postgres"
)

// claims identifies an email and, for click links, which original URL a
// token resolves to.
type claims struct {
	EmailID   string `json:"eid"`
	LinkID    string `json:"lid,omitempty"`
	ShortCode string `json:"sc,omitempty"`
	Kind      string `json:"k"`
	jwt.RegisteredClaims
}

// Tracker issues and verifies tracking tokens and records the resulting
// open/click events.
type Tracker struct {
	links  *postgres.TrackingLinkRepository
	events *postgres.EventRepository
	secret string
}

// New builds a Tracker. secret is the process's JWT_SECRET (spec.md §6).
func New(links *postgres.TrackingLinkRepository, events *postgres.EventRepository, secret string) *Tracker {
	return &Tracker{links: links, events: events, secret: secret}
}

// anchorHref matches an HTML anchor's href attribute value so outbound
// links can be rewritten to carry a click token.
var anchorHref = regexp.MustCompile(`(?i)href="([^"]+)"`)

func randomCode() (string, error) {
	buf := make([]byte, 9)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// RewriteClicks replaces every href in html with a short-code redirect
// token, persisting a TrackingLink row per distinct URL. No-op if
// trackClicks is false (per Queue's tracking settings, spec.md §3).
func (t *Tracker) RewriteClicks(ctx context.Context, emailID, html string, trackClicks bool) (string, error) {
	if !trackClicks || html == "" {
		return html, nil
	}
	var rewriteErr error
	out := anchorHref.ReplaceAllStringFunc(html, func(match string) string {
		if rewriteErr != nil {
			return match
		}
		sub := anchorHref.FindStringSubmatch(match)
		original := sub[1]
		code, err := randomCode()
		if err != nil {
			rewriteErr = err
			return match
		}
		link := &domain.TrackingLink{EmailID: emailID, ShortCode: code, OriginalURL: original}
		if err := t.links.Create(ctx, link); err != nil {
			rewriteErr = err
			return match
		}
		return fmt.Sprintf(`href="/v1/tracking/click/%s"`, code)
	})
	if rewriteErr != nil {
		return "", rewriteErr
	}
	return out, nil
}

// IssueOpenToken signs a token an external pixel collaborator embeds as
// the src of a 1x1 tracking image; reporting it back via RecordOpen
// satisfies spec.md's event-write contract for opens.
func (t *Tracker) IssueOpenToken(emailID string) (string, error) {
	c := claims{
		EmailID: emailID,
		Kind:    "open",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(30 * 24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString([]byte(t.secret))
}

var errInvalidToken = errors.New("tracking: invalid or expired token")

func (t *Tracker) parse(tokenStr string) (*claims, error) {
	var c claims
	tok, err := jwt.ParseWithClaims(tokenStr, &c, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errInvalidToken
		}
		return []byte(t.secret), nil
	})
	if err != nil || !tok.Valid {
		return nil, errInvalidToken
	}
	return &c, nil
}

// RecordOpen verifies an open token and appends an `opened` event.
func (t *Tracker) RecordOpen(ctx context.Context, tokenStr string) error {
	c, err := t.parse(tokenStr)
	if err != nil || c.Kind != "open" {
		return errInvalidToken
	}
	_, err = t.events.Append(ctx, c.EmailID, domain.EventOpened, map[string]any{"emailId": c.EmailID})
	return err
}

// RecordClick resolves a short code to its original URL, bumps the click
// counter, and appends a `clicked` event. Returns the original URL so an
// HTTP collaborator can perform the actual redirect (out of scope here).
func (t *Tracker) RecordClick(ctx context.Context, shortCode string) (string, error) {
	link, err := t.links.GetByShortCode(ctx, shortCode)
	if err != nil {
		return "", err
	}
	if _, err := t.events.Append(ctx, link.EmailID, domain.EventClicked, map[string]any{
		"emailId": link.EmailID,
		"url":     link.OriginalURL,
	}); err != nil {
		return "", err
	}
	return link.OriginalURL, nil
}
