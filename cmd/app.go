package cmd

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"github.com/deemkeen/fedgate/activitypub"
	"github.com/deemkeen/fedgate/cache"
	"github.com/deemkeen/fedgate/db"
	"github.com/deemkeen/fedgate/ratelimit"
	"github.com/deemkeen/fedgate/util"
	"github.com/deemkeen/fedgate/web"
	"github.com/redis/go-redis/v9"
)

// app holds the wired components of one gateway process.
type app struct {
	conf       *util.AppConfig
	store      *db.SQLiteStore
	rdb        *redis.Client
	cache      cache.Cache
	links      activitypub.Links
	ledger     *activitypub.Ledger
	directory  *activitypub.Directory
	actors     *activitypub.RemoteActors
	dispatcher *activitypub.Dispatcher
	processor  *activitypub.Processor
	paginator  *activitypub.Paginator
	publisher  *activitypub.Publisher
}

// newApp opens the store and the cache and wires every component.
// Without a cache address the gateway runs uncached and unthrottled.
func newApp(conf *util.AppConfig) (*app, error) {
	path := conf.Conf.DbPath
	if !filepath.IsAbs(path) {
		path = util.ResolveFilePath(path)
	}
	store, err := db.Open(path)
	if err != nil {
		return nil, err
	}

	a := &app{conf: conf, store: store, cache: cache.Noop{}}
	if conf.Conf.CacheAddr != "" {
		a.rdb = redis.NewClient(&redis.Options{
			Addr:     conf.Conf.CacheAddr,
			Password: conf.Conf.CachePassword,
			DB:       conf.Conf.CacheDb,
		})
		a.cache = cache.NewRedisCache(a.rdb)
	} else {
		log.Println("No cache address configured, running without cache and rate limits")
	}

	a.links = activitypub.NewLinks(conf.BaseURL())
	a.ledger = activitypub.NewLedger(store, a.cache, a.links)
	a.directory = activitypub.NewDirectory(store, a.cache, a.ledger, a.links, activitypub.RSAKeyGenerator(conf.Conf.KeyBits))
	a.actors = activitypub.NewRemoteActors(nil, a.cache)
	a.dispatcher = activitypub.NewDispatcher(a.directory, a.actors, store, a.links, nil)
	a.processor = activitypub.NewProcessor(a.directory, a.ledger, a.links, a.dispatcher)
	a.dispatcher.SetLocalInbox(a.processor)
	a.paginator = activitypub.NewPaginator(a.directory, a.ledger)
	a.publisher = activitypub.NewPublisher(a.directory, a.ledger, a.links, a.dispatcher)
	return a, nil
}

// server builds the HTTP server state over the wired components.
func (a *app) server() *web.Server {
	s := &web.Server{
		Conf:      a.conf,
		Links:     a.links,
		Directory: a.directory,
		Ledger:    a.ledger,
		Paginator: a.paginator,
		Processor: a.processor,
		Verifier:  activitypub.NewSignatureVerifier(a.actors),
		Limiter:   ratelimit.Unlimited{},
		Checks: map[string]web.HealthCheck{
			"store": a.store.Ping,
		},
	}
	if a.rdb != nil {
		s.Limiter = ratelimit.New(a.rdb)
		s.Checks["cache"] = func(ctx context.Context) error {
			return a.rdb.Ping(ctx).Err()
		}
	}
	return s
}

func (a *app) Close() error {
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			log.Printf("Failed to close cache client: %v", err)
		}
	}
	if err := a.store.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
