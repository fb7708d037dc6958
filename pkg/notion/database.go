package notion

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
)

// QueryAll fetches all pages from a Notion database, handling pagination.
// Rate limiting is enforced by the Client (3 req/s by default). The next
// page is prefetched in a goroutine while the current one is appended.
func QueryAll(ctx context.Context, c Client, dbID string, filter *notionapi.DatabaseQueryRequest) ([]notionapi.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "notion: query all")
	}

	var all []notionapi.Page

	req := &notionapi.DatabaseQueryRequest{}
	if filter != nil {
		req.Filter = filter.Filter
		req.Sorts = filter.Sorts
		req.PageSize = filter.PageSize
	}

	type prefetchResult struct {
		resp *notionapi.DatabaseQueryResponse
		err  error
	}
	var prefetchCh <-chan prefetchResult

	for {
		var resp *notionapi.DatabaseQueryResponse
		var err error

		if prefetchCh != nil {
			result := <-prefetchCh
			resp, err = result.resp, result.err
		} else {
			resp, err = c.QueryDatabase(ctx, dbID, req)
		}
		if err != nil {
			return nil, eris.Wrap(err, "notion: query all page")
		}

		all = append(all, resp.Results...)
		if !resp.HasMore {
			break
		}

		nextReq := &notionapi.DatabaseQueryRequest{StartCursor: resp.NextCursor}
		if filter != nil {
			nextReq.Filter = filter.Filter
			nextReq.Sorts = filter.Sorts
			nextReq.PageSize = filter.PageSize
		}

		ch := make(chan prefetchResult, 1)
		prefetchCh = ch
		go func() {
			r, e := c.QueryDatabase(ctx, dbID, nextReq)
			ch <- prefetchResult{resp: r, err: e}
		}()
	}

	return all, nil
}

// IndexPages maps the text of keyProp to page id for every page in the
// database. keyProp may be a title or rich text property; pages with an
// empty key are skipped.
func IndexPages(ctx context.Context, c Client, dbID, keyProp string) (map[string]string, error) {
	pages, err := QueryAll(ctx, c, dbID, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "notion: index %s", dbID)
	}

	idx := make(map[string]string, len(pages))
	for _, p := range pages {
		if key := PropertyText(p.Properties[keyProp]); key != "" {
			idx[key] = string(p.ID)
		}
	}
	return idx, nil
}

// UpsertPage updates pageID when it is set, otherwise it creates a page in
// dbID. It reports whether a page was created.
func UpsertPage(ctx context.Context, c Client, dbID, pageID string, props notionapi.Properties) (bool, error) {
	if pageID != "" {
		if _, err := c.UpdatePage(ctx, pageID, &notionapi.PageUpdateRequest{Properties: props}); err != nil {
			return false, err
		}
		return false, nil
	}

	_, err := c.CreatePage(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(dbID),
		},
		Properties: props,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}
