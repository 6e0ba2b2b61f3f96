package fetch

import (
	"github.com/google/uuid"

	"github.com/omalloc/trove/pkg/freshness"
)

// Priority orders scheduled fetches; lower values run sooner.
type Priority int

const (
	PriorityImmediate  Priority = -1000
	PriorityAPIAction  Priority = -500
	PriorityAPIListing Priority = 0
	PriorityThumbnail  Priority = 100
	PriorityImage      Priority = 200
	PriorityBackground Priority = 1000
)

// Method is the HTTP method of a fetch.
type Method string

const (
	MethodGet  Method = "GET"
	MethodPost Method = "POST"
)

// Category classifies payload kinds. It selects the compression codec and
// the cache bucket of an entry.
type Category string

const (
	CategoryCaptcha            Category = "captcha"
	CategoryImage              Category = "image"
	CategoryInlineImagePreview Category = "inline_image_preview"
	CategoryNoCache            Category = "nocache"
	CategoryThumbnail          Category = "thumbnail"
	CategoryCommentList        Category = "comment_list"
	CategoryImageInfo          Category = "image_info"
	CategoryInboxList          Category = "inbox_list"
	CategoryMultiredditList    Category = "multireddit_list"
	CategoryPostList           Category = "post_list"
	CategorySubredditAbout     Category = "subreddit_about"
	CategorySubredditList      Category = "subreddit_list"
	CategoryUserAbout          Category = "user_about"
)

// Queue classifies requests by the authentication and header injection
// path they take, and selects the worker pool that runs them.
type Queue string

const (
	// QueueAPI requests carry the principal's bearer token.
	QueueAPI       Queue = "api"
	QueueImmediate Queue = "immediate"
	QueueFast      Queue = "fast"
	QueueDefault   Queue = "default"
)

// StrategyMode tells the engine when the network may be skipped.
type StrategyMode uint8

const (
	// DownloadAlways ignores the cache and always fetches.
	DownloadAlways StrategyMode = iota
	// DownloadIfNecessary serves any committed cache entry.
	DownloadIfNecessary
	// DownloadNever serves only from cache and fails on a miss.
	DownloadNever
	// DownloadIfOutsideBound serves the cache when its entry satisfies Bound.
	DownloadIfOutsideBound
)

// Strategy is the download policy of a request.
type Strategy struct {
	Mode  StrategyMode
	Bound freshness.Bound
}

var (
	StrategyAlways      = Strategy{Mode: DownloadAlways}
	StrategyIfNecessary = Strategy{Mode: DownloadIfNecessary, Bound: freshness.Any()}
	StrategyNever       = Strategy{Mode: DownloadNever, Bound: freshness.Any()}
)

// StrategyIfOutsideBound fetches only when the cached entry fails b.
func StrategyIfOutsideBound(b freshness.Bound) Strategy {
	return Strategy{Mode: DownloadIfOutsideBound, Bound: b}
}

// UsesCache reports whether the strategy may answer from the cache.
func (s Strategy) UsesCache() bool {
	return s.Mode != DownloadAlways
}

// Request describes a fetch. It must not be modified after submission;
// the engine identifies it by pointer.
type Request struct {
	Locator   string
	Principal Principal
	Priority  Priority
	Method    Method
	Body      []byte
	Strategy  Strategy
	Category  Category
	Queue     Queue
	// Cache persists the fetched body through the cache store.
	Cache bool
	// Session pins the correlation id; nil generates a fresh one.
	Session   *uuid.UUID
	Callbacks Callbacks
}

// Details returns the transport view of r.
func (r *Request) Details() RequestDetails {
	method := r.Method
	if method == "" {
		method = MethodGet
	}
	return RequestDetails{
		Locator: r.Locator,
		Method:  method,
		Body:    r.Body,
	}
}
