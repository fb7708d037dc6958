// Package sheets writes tabular data to a Google Sheets spreadsheet.
package sheets

import (
	"context"
	"net/http"
	"strings"

	"github.com/rotisserie/eris"
	"google.golang.org/api/option"
	gs "google.golang.org/api/sheets/v4"
)

// Config configures a Client. One of CredentialsPath, CredentialsJSON or
// HTTPClient is required.
type Config struct {
	CredentialsPath string
	CredentialsJSON []byte

	BaseURL    string
	HTTPClient *http.Client
}

// Client wraps the Sheets values API.
type Client struct {
	service *gs.Service
}

// NewClient creates a Client authorized with a service account.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	var opts []option.ClientOption
	switch {
	case cfg.HTTPClient != nil:
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	case cfg.CredentialsPath != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsPath))
	case len(cfg.CredentialsJSON) > 0:
		opts = append(opts, option.WithCredentialsJSON(cfg.CredentialsJSON))
	default:
		return nil, eris.New("sheets: credentials path or JSON is required")
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(cfg.BaseURL))
	}

	service, err := gs.NewService(ctx, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "sheets: create service")
	}
	return &Client{service: service}, nil
}

// UpdateValues writes values starting at the top-left cell of rng.
func (c *Client) UpdateValues(ctx context.Context, spreadsheetID, rng string, values [][]any) error {
	_, err := c.service.Spreadsheets.Values.Update(spreadsheetID, rng, &gs.ValueRange{Values: values}).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return eris.Wrapf(err, "sheets: update %s", rng)
	}
	return nil
}

// ClearValues clears every value in rng.
func (c *Client) ClearValues(ctx context.Context, spreadsheetID, rng string) error {
	_, err := c.service.Spreadsheets.Values.Clear(spreadsheetID, rng, &gs.ClearValuesRequest{}).
		Context(ctx).
		Do()
	if err != nil {
		return eris.Wrapf(err, "sheets: clear %s", rng)
	}
	return nil
}

// ReplaceValues clears the tab rng points into and writes values at rng,
// so rows left over from a longer previous write disappear.
func (c *Client) ReplaceValues(ctx context.Context, spreadsheetID, rng string, values [][]any) error {
	if err := c.ClearValues(ctx, spreadsheetID, Tab(rng)); err != nil {
		return err
	}
	return c.UpdateValues(ctx, spreadsheetID, rng, values)
}

// Tab returns the sheet name of an A1 range ("Jobs!A1" -> "Jobs"). A range
// without a sheet name is returned unchanged.
func Tab(rng string) string {
	if i := strings.LastIndex(rng, "!"); i > 0 {
		return rng[:i]
	}
	return rng
}
