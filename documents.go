package main

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	fetchv1 "github.com/omalloc/trove/api/defined/v1/fetch"
	"github.com/omalloc/trove/fetch"
	"github.com/omalloc/trove/objectcache"
)

// document is what the object cache remembers about a fetched locator.
type document struct {
	Session     uuid.UUID `json:"session" cbor:"session"`
	MimeType    string    `json:"mime_type" cbor:"mime_type"`
	Size        uint64    `json:"size" cbor:"size"`
	StoredSize  uint64    `json:"stored_size" cbor:"stored_size"`
	Compression string    `json:"compression" cbor:"compression"`
	Path        string    `json:"path" cbor:"path"`
}

// documentFetcher refreshes documents by downloading them into the cache
// store through the fetch engine.
type documentFetcher struct {
	engine    *fetch.Engine
	queue     fetchv1.Queue
	category  fetchv1.Category
	principal fetchv1.Principal
}

var _ objectcache.Fetcher[string, document] = (*documentFetcher)(nil)

func (f *documentFetcher) Fetch(ctx context.Context, locators []string) (*objectcache.FetchResult[string, document], error) {
	res := &objectcache.FetchResult[string, document]{
		Values:    make(map[string]document, len(locators)),
		Errors:    make(map[string]error),
		Timestamp: time.Now(),
	}

	handles := make(map[string]*fetch.Handle, len(locators))
	for _, loc := range locators {
		h, err := f.engine.Submit(&fetchv1.Request{
			Locator:   loc,
			Principal: f.principal,
			Priority:  fetchv1.PriorityAPIListing,
			Strategy:  fetchv1.StrategyAlways,
			Category:  f.category,
			Queue:     f.queue,
			Cache:     true,
			Callbacks: fetchv1.NopCallbacks{},
		})
		if err != nil {
			res.Errors[loc] = err
			continue
		}
		handles[loc] = h
	}

	for loc, h := range handles {
		if err := h.Wait(ctx); err != nil {
			if errors.Is(err, ctx.Err()) {
				h.Cancel()
			}
			res.Errors[loc] = err
			continue
		}
		entry := h.Entry()
		if entry == nil {
			res.Errors[loc] = objectcache.ErrNotFound
			continue
		}
		md := entry.Metadata()
		res.Values[loc] = document{
			Session:     md.Session,
			MimeType:    md.MimeType,
			Size:        md.Size,
			StoredSize:  md.StoredSize,
			Compression: string(md.Compression),
			Path:        entry.Path(),
		}
	}
	return res, nil
}
