package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/omalloc/trove/api/defined/v1/event"
	fetchv1 "github.com/omalloc/trove/api/defined/v1/fetch"
	storagev1 "github.com/omalloc/trove/api/defined/v1/storage"
	"github.com/omalloc/trove/conf"
	"github.com/omalloc/trove/contrib/log"
	"github.com/omalloc/trove/fetch"
	"github.com/omalloc/trove/fetch/auth"
	"github.com/omalloc/trove/internal/constants"
	"github.com/omalloc/trove/metrics"
	"github.com/omalloc/trove/objectcache"
	"github.com/omalloc/trove/pkg/compress"
	"github.com/omalloc/trove/pkg/encoding"
	"github.com/omalloc/trove/pkg/freshness"
	"github.com/omalloc/trove/pkg/x/runtime"
	"github.com/omalloc/trove/storage"
	"github.com/omalloc/trove/storage/sharedkv"
	"github.com/omalloc/trove/transport/nethttp"
)

var (
	// flagConf is the config flag.
	flagConf string = "config.yaml"
	// flagVerbose is the verbose flag.
	flagVerbose bool
	flagVersion bool

	flagQueue     string
	flagCategory  string
	flagMaxAge    time.Duration
	flagPrincipal string
)

func init() {
	flag.StringVar(&flagConf, "c", "config.yaml", "config file path")
	flag.BoolVar(&flagVerbose, "v", false, "enable verbose log")
	flag.BoolVar(&flagVersion, "version", false, "print version and exit")
	flag.StringVar(&flagQueue, "queue", string(fetchv1.QueueDefault), "queue of command line fetches")
	flag.StringVar(&flagCategory, "category", string(fetchv1.CategoryPostList), "category of command line fetches")
	flag.DurationVar(&flagMaxAge, "max-age", 0, "serve cached documents younger than this; 0 always refetches")
	flag.StringVar(&flagPrincipal, "user", "", "fetch on behalf of this account instead of anonymously")

	// init prometheus
	prometheus.Unregister(collectors.NewGoCollector())
	registerer := prometheus.WrapRegistererWithPrefix(constants.MetricNamespace+"_"+constants.MetricSubsystem+"_", prometheus.DefaultRegisterer)
	registerer.MustRegister(collectors.NewGoCollector(collectors.WithGoCollectorMemStatsMetricsDisabled()))
}

func main() {
	flag.Parse()

	if flagVersion {
		fmt.Println(runtime.BuildInfo.String())
		return
	}

	bc, err := conf.Load(flagConf)
	if err != nil {
		log.Fatal(err)
	}

	if flagVerbose {
		bc.Logger.Level = "debug"
	}
	log.SetLogger(log.With(log.NewZapLogger(&log.Options{
		Level:      bc.Logger.Level,
		Path:       bc.Logger.Path,
		MaxSize:    bc.Logger.MaxSize,
		MaxBackups: bc.Logger.MaxBackups,
		MaxAge:     bc.Logger.MaxAge,
		Compress:   bc.Logger.Compress,
	}), "pid", os.Getpid()))

	log.Debugf("conf = %#+v", bc)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(bc)
	if err != nil {
		log.Fatal(err)
	}
	defer app.Close()

	if err := app.Run(ctx, flag.Args()); err != nil {
		log.Fatal(err)
	}
}

// app owns every long lived component.
type app struct {
	bc     *conf.Bootstrap
	log    *log.Helper
	store  storagev1.Store
	table  *compress.Table
	engine *fetch.Engine
	kv     storagev1.SharedKV
	docs   *objectcache.Registry[string, document]
}

func newApp(bc *conf.Bootstrap) (*app, error) {
	logger := log.GetLogger()

	codec, err := encoding.Lookup(bc.ObjectCache.Codec)
	if err != nil {
		return nil, err
	}
	encoding.SetDefaultCodec(codec)

	table, err := compress.NewTable(compressionTable(bc.Storage), storagev1.Compression(bc.Storage.DefaultCompression), logger)
	if err != nil {
		return nil, fmt.Errorf("storage.compression: %w", err)
	}

	store, err := storage.New(bc.Storage, logger)
	if err != nil {
		return nil, err
	}

	topts := []nethttp.Option{nethttp.WithTimeout(bc.Fetch.Timeout), nethttp.WithLogger(logger)}
	if bc.Fetch.Proxy != "" {
		proxy, err := url.Parse(bc.Fetch.Proxy)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("fetch.proxy: %w", err)
		}
		topts = append(topts, nethttp.WithProxy(proxy))
	}

	engine, err := fetch.New(
		fetch.WithTransport(nethttp.New(topts...)),
		fetch.WithStore(store),
		fetch.WithCredentials(auth.NewCredentials(envTokenSource{}, auth.WithLogger(logger))),
		fetch.WithPools(bc.Scheduler.Pools),
		fetch.WithCompression(table),
		fetch.WithConfig(bc.Fetch),
		fetch.WithLogger(logger),
	)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	var kv storagev1.SharedKV
	if bc.ObjectCache.Path != "" {
		if kv, err = sharedkv.NewStoreSharedKV(bc.ObjectCache.Path); err != nil {
			_ = engine.Close()
			_ = store.Close()
			return nil, err
		}
	} else {
		kv = sharedkv.NewMemSharedKV()
	}

	a := &app{
		bc:     bc,
		log:    log.NewHelper(log.With(logger, "module", "app")),
		store:  store,
		table:  table,
		engine: engine,
		kv:     kv,
	}
	a.docs = objectcache.NewRegistry(a.newDocumentCache)

	event.Subscribe(event.CacheWrittenTopic, func(_ context.Context, ev event.CacheWritten) {
		a.log.Debugf("cached %s [%s %s] %s -> %s", ev.Locator, ev.Category, ev.Compression,
			humanize.IBytes(ev.Size), humanize.IBytes(ev.StoredSize))
	}, "app")
	return a, nil
}

func (a *app) newDocumentCache(p fetchv1.Principal) (*objectcache.Cache[string, document], error) {
	oc := a.bc.ObjectCache
	return objectcache.New[string, document](
		&documentFetcher{engine: a.engine, queue: fetchv1.Queue(flagQueue), category: fetchv1.Category(flagCategory), principal: p},
		a.kv,
		objectcache.WithName("documents/"+objectcache.Namespace(p)),
		objectcache.WithCapacity(oc.Capacity),
		objectcache.WithGracePeriod(oc.GracePeriod),
		objectcache.WithMaxBatch(oc.MaxBatch),
		objectcache.WithWorkers(oc.Workers),
		objectcache.WithLogger(log.GetLogger()),
	)
}

func principal() fetchv1.Principal {
	if flagPrincipal == "" {
		return fetchv1.AnonymousPrincipal
	}
	return fetchv1.Principal{Username: flagPrincipal}
}

// Run fetches locators and prints what was stored for them. With no
// locators it keeps the cache pruned until ctx ends.
func (a *app) Run(ctx context.Context, locators []string) error {
	g, ctx := errgroup.WithContext(ctx)

	if err := conf.Watch(ctx, flagConf, a.reload); err != nil {
		a.log.Warnf("config watch disabled: %v", err)
	}

	if len(locators) == 0 {
		g.Go(func() error { return a.prune(ctx) })
		return g.Wait()
	}

	g.Go(func() error {
		cache, err := a.docs.Get(principal())
		if err != nil {
			return err
		}

		bound := freshness.None()
		if flagMaxAge > 0 {
			bound = freshness.NotOlderThan(flagMaxAge)
		}
		docs, err := cache.GetMany(ctx, locators, bound)
		for _, loc := range locators {
			if d, ok := docs[loc]; ok {
				fmt.Printf("%s\t%s\t%s\t%s\t%s\n", d.Value.Session, humanize.IBytes(d.Value.Size),
					d.Value.MimeType, humanize.Time(d.Timestamp), loc)
			}
		}
		return err
	})
	err := g.Wait()

	for _, r := range metrics.CollectorFetchResults() {
		fmt.Printf("%s\t%s\t%.0f\n", r.Queue, r.Outcome, r.Count)
	}
	return err
}

func (a *app) prune(ctx context.Context) error {
	interval := a.bc.Storage.PruneInterval
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := a.store.Prune(ctx, a.bc.Storage.MaxAge); err != nil {
				a.log.Warnf("prune failed: %v", err)
			}
			if u, err := a.store.Usage(); err == nil {
				a.log.Infof("cache usage %s of %s", humanize.IBytes(u.UsedBytes), humanize.IBytes(u.TotalBytes))
			}
		}
	}
}

// reload applies the settings that can change without a restart.
func (a *app) reload(bc *conf.Bootstrap) {
	if err := a.table.Replace(compressionTable(bc.Storage), storagev1.Compression(bc.Storage.DefaultCompression)); err != nil {
		a.log.Warnf("keep compression table: %v", err)
	}
}

func (a *app) Close() error {
	return errors.Join(
		a.docs.Close(),
		a.engine.Close(),
		a.kv.Close(),
		a.store.Close(),
	)
}

func compressionTable(c *conf.Storage) map[string]storagev1.Compression {
	if len(c.Compression) == 0 {
		return nil
	}
	out := make(map[string]storagev1.Compression, len(c.Compression))
	for category, codec := range c.Compression {
		out[category] = storagev1.Compression(codec)
	}
	return out
}

// envTokenSource hands out a bearer token taken from TROVE_TOKEN.
type envTokenSource struct{}

func (envTokenSource) token() (*auth.Token, error) {
	v := os.Getenv("TROVE_TOKEN")
	if v == "" {
		return nil, auth.ErrNoSource
	}
	return &auth.Token{Value: v, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (s envTokenSource) FetchAnonymous(context.Context) (*auth.Token, error) { return s.token() }

func (s envTokenSource) Fetch(context.Context, fetchv1.Principal) (*auth.Token, error) {
	return s.token()
}
