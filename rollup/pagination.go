// ABOUTME: Cursor pagination shared by source collection and wipe listing
// ABOUTME: Guards against cursor loops, stalled pages, and unbounded record counts
package rollup

import (
	"context"

	"github.com/harperreed/rollupsync/models"
)

type pageOptions struct {
	AccountKey string
	PageSize   int
	MaxRecords int
}

type fetchResult struct {
	// Records holds each record id once, in arrival order. Records without
	// an id are kept as-is.
	Records []models.RawContact
	// Raw counts every record returned across all pages, repeats included.
	Raw        int
	Pages      int
	UsedSearch bool
}

// fetchAllContacts pages through an account until a page yields no new
// records, the provider marks a page final, no next cursor can be derived,
// a cursor repeats, or MaxRecords is reached. If the primary listing rejects
// the first page with a client error and the adapter can search, paging
// restarts on the search endpoint. Rate limits, server errors, and transport
// failures surface as fetch errors.
func fetchAllContacts(ctx context.Context, adapter ContactsAdapter, opts pageOptions) (fetchResult, error) {
	var result fetchResult
	if opts.PageSize < 1 {
		opts.PageSize = DefaultLimits().PageSize
	}
	if opts.MaxRecords < 1 {
		return result, nil
	}

	list := adapter.ListContacts
	seenIDs := make(map[string]struct{})
	seenCursors := make(map[string]struct{})
	cursor := ""

	for {
		limit := opts.PageSize
		if remaining := opts.MaxRecords - len(result.Records); remaining < limit {
			limit = remaining
		}
		req := models.PageRequest{Cursor: cursor, Limit: limit}

		page, err := list(ctx, req)
		if err != nil && result.Pages == 0 && IsRejected(err) {
			if searcher, ok := adapter.(Searcher); ok {
				list = searcher.SearchContacts
				result.UsedSearch = true
				page, err = list(ctx, req)
			}
		}
		if err != nil {
			return result, &FetchError{AccountKey: opts.AccountKey, Cursor: cursor, Err: err}
		}
		result.Pages++
		result.Raw += len(page.Records)

		fresh := 0
		for _, rec := range page.Records {
			if len(result.Records) >= opts.MaxRecords {
				break
			}
			if id := rec.RecordID(); id != "" {
				if _, dup := seenIDs[id]; dup {
					continue
				}
				seenIDs[id] = struct{}{}
			}
			result.Records = append(result.Records, rec)
			fresh++
		}

		if fresh == 0 || page.Final || len(result.Records) >= opts.MaxRecords {
			return result, nil
		}

		next := page.NextCursor
		if next == "" {
			next = page.Records[len(page.Records)-1].RecordID()
		}
		if next == "" {
			return result, nil
		}
		if _, looped := seenCursors[next]; looped {
			return result, nil
		}
		seenCursors[next] = struct{}{}
		cursor = next
	}
}
