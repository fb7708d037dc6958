// Package gmail reads a mailbox through the Gmail v1 API.
package gmail

import (
	"context"
	"encoding/base64"
	"errors"
	"html"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gm "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/sells-group/jobsync/internal/model"
	"github.com/sells-group/jobsync/internal/resilience"
)

// Config configures a Client.
type Config struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	// User is the mailbox, "me" for the authorized account.
	User       string
	PageSize   int64
	FetchDelay time.Duration

	// BaseURL and HTTPClient override the endpoint and transport; with
	// HTTPClient set no OAuth token source is attached.
	BaseURL    string
	HTTPClient *http.Client
	Retry      resilience.RetryConfig
}

// Page is one listing batch.
type Page struct {
	IDs           []string
	NextPageToken string
}

// Client lists and fetches messages.
type Client struct {
	svc        *gm.Service
	user       string
	pageSize   int64
	fetchDelay time.Duration
	retry      resilience.RetryConfig
}

// New creates a Client authorized with a long-lived refresh token.
func New(ctx context.Context, cfg Config) (*Client, error) {
	var opts []option.ClientOption
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	} else {
		if cfg.RefreshToken == "" {
			return nil, eris.New("gmail: refresh token is required")
		}
		oc := &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{gm.GmailReadonlyScope},
		}
		ts := oc.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})
		opts = append(opts, option.WithTokenSource(ts))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(cfg.BaseURL))
	}

	svc, err := gm.NewService(ctx, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "gmail: create service")
	}

	if cfg.User == "" {
		cfg.User = "me"
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = resilience.DefaultRetryConfig()
	}
	if cfg.Retry.OnRetry == nil {
		cfg.Retry.OnRetry = resilience.RetryLogger("gmail", "request")
	}
	return &Client{
		svc:        svc,
		user:       cfg.User,
		pageSize:   cfg.PageSize,
		fetchDelay: cfg.FetchDelay,
		retry:      cfg.Retry,
	}, nil
}

// List returns one page of message ids matching query.
func (c *Client) List(ctx context.Context, query, pageToken string) (*Page, error) {
	resp, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*gm.ListMessagesResponse, error) {
		call := c.svc.Users.Messages.List(c.user).MaxResults(c.pageSize).Context(ctx)
		if query != "" {
			call = call.Q(query)
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		return resp, classify(err)
	})
	if err != nil {
		return nil, eris.Wrap(err, "gmail: list messages")
	}

	page := &Page{NextPageToken: resp.NextPageToken}
	for _, m := range resp.Messages {
		page.IDs = append(page.IDs, m.Id)
	}
	return page, nil
}

// Fetch returns the message with the given id. The body is the plain-text
// part when present, otherwise the HTML part with tags stripped.
func (c *Client) Fetch(ctx context.Context, id string) (*model.Message, error) {
	if c.fetchDelay > 0 {
		t := time.NewTimer(c.fetchDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	msg, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*gm.Message, error) {
		m, err := c.svc.Users.Messages.Get(c.user, id).Format("full").Context(ctx).Do()
		return m, classify(err)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "gmail: get message %s", id)
	}
	return toMessage(msg), nil
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return resilience.FromStatus(err, gerr.Code)
	}
	return err
}

func toMessage(m *gm.Message) *model.Message {
	out := &model.Message{
		ExternalID: m.Id,
		ReceivedAt: time.UnixMilli(m.InternalDate).UTC(),
	}
	if m.Payload == nil {
		out.Body = m.Snippet
		return out
	}
	for _, h := range m.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "subject":
			out.Subject = h.Value
		case "from":
			out.Sender = h.Value
		}
	}

	plain, rich := findBodies(m.Payload)
	switch {
	case plain != "":
		out.Body = plain
	case rich != "":
		out.Body = stripHTML(rich)
	default:
		out.Body = m.Snippet
	}
	out.Body = strings.TrimSpace(out.Body)
	return out
}

// findBodies walks the MIME tree depth-first and returns the first
// text/plain and text/html bodies.
func findBodies(p *gm.MessagePart) (plain, rich string) {
	if p == nil {
		return "", ""
	}
	if p.Body != nil && p.Body.Data != "" {
		switch {
		case strings.HasPrefix(p.MimeType, "text/plain"):
			plain = decode(p.Body.Data)
		case strings.HasPrefix(p.MimeType, "text/html"):
			rich = decode(p.Body.Data)
		}
	}
	for _, part := range p.Parts {
		pl, rh := findBodies(part)
		if plain == "" {
			plain = pl
		}
		if rich == "" {
			rich = rh
		}
		if plain != "" && rich != "" {
			break
		}
	}
	return plain, rich
}

func decode(data string) string {
	b, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		b, err = base64.RawURLEncoding.DecodeString(data)
		if err != nil {
			return ""
		}
	}
	return string(b)
}

var (
	styleBlock = regexp.MustCompile(`(?is)<(style|script)[^>]*>.*?</(style|script)>`)
	htmlTag    = regexp.MustCompile(`<[^>]+>`)
	spaces     = regexp.MustCompile(`\s+`)
)

func stripHTML(s string) string {
	s = styleBlock.ReplaceAllString(s, " ")
	s = htmlTag.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	return strings.TrimSpace(spaces.ReplaceAllString(s, " "))
}
