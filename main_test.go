package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fetchv1 "github.com/omalloc/trove/api/defined/v1/fetch"
	storagev1 "github.com/omalloc/trove/api/defined/v1/storage"
	"github.com/omalloc/trove/conf"
	"github.com/omalloc/trove/fetch"
	"github.com/omalloc/trove/objectcache"
	"github.com/omalloc/trove/pkg/freshness"
	"github.com/omalloc/trove/storage"
	"github.com/omalloc/trove/storage/sharedkv"
	"github.com/omalloc/trove/transport/nethttp"
)

func TestDocumentFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write([]byte(`{"kind":"Listing","data":{"children":[]}}`))
	}))
	defer srv.Close()

	store, err := storage.New(&conf.Storage{Path: "/cache", Driver: storage.DriverMemory}, nil)
	require.NoError(t, err)
	defer store.Close()

	engine, err := fetch.New(
		fetch.WithTransport(nethttp.New(nethttp.WithTimeout(5*time.Second))),
		fetch.WithStore(store),
	)
	require.NoError(t, err)
	defer engine.Close()

	f := &documentFetcher{
		engine:    engine,
		queue:     fetchv1.QueueDefault,
		category:  fetchv1.CategoryPostList,
		principal: fetchv1.AnonymousPrincipal,
	}
	cache, err := objectcache.New[string, document](f, nil)
	require.NoError(t, err)
	defer cache.Close()

	ok, missing := srv.URL+"/r/golang.json", srv.URL+"/missing"
	docs, err := cache.GetMany(context.Background(), []string{ok, missing}, freshness.None())

	var failure *fetchv1.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, fetchv1.KindConnection, failure.Kind)
	assert.Equal(t, http.StatusNotFound, failure.Status)

	require.Contains(t, docs, ok)
	d := docs[ok].Value
	assert.Equal(t, "application/json", d.MimeType)
	assert.EqualValues(t, 41, d.Size)
	assert.Equal(t, string(storagev1.CompressionZstd), d.Compression)

	entry, err := store.LookupLatest(context.Background(), ok, fetchv1.AnonymousPrincipal.Namespace(), string(fetchv1.CategoryPostList))
	require.NoError(t, err)
	assert.Equal(t, d.Session, entry.Metadata().Session)
}

func TestDocumentCachePerPrincipal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"kind":"Listing"}`))
	}))
	defer srv.Close()

	store, err := storage.New(&conf.Storage{Path: "/cache", Driver: storage.DriverMemory}, nil)
	require.NoError(t, err)
	defer store.Close()

	engine, err := fetch.New(fetch.WithTransport(nethttp.New()), fetch.WithStore(store))
	require.NoError(t, err)
	defer engine.Close()

	a := &app{bc: conf.Default(), engine: engine, kv: sharedkv.NewMemSharedKV()}
	a.docs = objectcache.NewRegistry(a.newDocumentCache)
	defer a.docs.Close()

	bob := fetchv1.Principal{Username: "bob"}
	cache, err := a.docs.Get(bob)
	require.NoError(t, err)

	loc := srv.URL + "/user/bob/saved.json"
	_, _, err = cache.Get(context.Background(), loc, freshness.None())
	require.NoError(t, err)

	ctx := context.Background()
	category := string(fetchv1.CategoryPostList)
	_, err = store.LookupLatest(ctx, loc, bob.Namespace(), category)
	assert.NoError(t, err, "fetched on behalf of the registry principal")
	_, err = store.LookupLatest(ctx, loc, fetchv1.AnonymousPrincipal.Namespace(), category)
	assert.ErrorIs(t, err, storagev1.ErrKeyNotFound)
}

func TestCompressionTable(t *testing.T) {
	assert.Nil(t, compressionTable(&conf.Storage{}))
	assert.Equal(t,
		map[string]storagev1.Compression{"image": storagev1.CompressionNone, "post_list": storagev1.CompressionBrotli},
		compressionTable(&conf.Storage{Compression: map[string]string{"image": "none", "post_list": "brotli"}}))
}

func TestEnvTokenSource(t *testing.T) {
	t.Setenv("TROVE_TOKEN", "")
	_, err := envTokenSource{}.FetchAnonymous(context.Background())
	assert.Error(t, err)

	t.Setenv("TROVE_TOKEN", "abc")
	tok, err := envTokenSource{}.Fetch(context.Background(), fetchv1.Principal{Username: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "abc", tok.Value)
	assert.True(t, tok.Valid(time.Now()))
}
