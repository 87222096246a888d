package activitypub

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/deemkeen/fedgate/cache"
	"github.com/deemkeen/fedgate/db"
	"github.com/deemkeen/fedgate/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

const testBase = "https://example.com"

type sent struct {
	sender    string
	recipient string
	activity  *domain.Activity
}

// recordingDeliverer stands in for the dispatcher.
type recordingDeliverer struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (r *recordingDeliverer) Deliver(_ context.Context, sender, recipientURI string, activity *domain.Activity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sent{sender: sender, recipient: recipientURI, activity: activity})
	return r.err
}

func (r *recordingDeliverer) all() []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sent(nil), r.sent...)
}

type fixture struct {
	store    *db.SQLiteStore
	cache    *cache.RedisCache
	mr       *miniredis.Miniredis
	links    Links
	ledger   *Ledger
	dir      *Directory
	delivery *recordingDeliverer
	proc     *Processor
	pager    *Paginator
	pub      *Publisher
}

// newFixture wires the gateway over an in-memory store and miniredis.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	f := &fixture{
		store:    store,
		cache:    cache.NewRedisCache(rdb),
		mr:       mr,
		links:    NewLinks(testBase),
		delivery: &recordingDeliverer{},
	}
	f.ledger = NewLedger(store, f.cache, f.links)
	f.dir = NewDirectory(store, f.cache, f.ledger, f.links, RSAKeyGenerator(1024))
	f.proc = NewProcessor(f.dir, f.ledger, f.links, f.delivery)
	f.pager = NewPaginator(f.dir, f.ledger)
	f.pub = NewPublisher(f.dir, f.ledger, f.links, f.delivery)
	return f
}

func (f *fixture) createActor(t *testing.T, identifier string) {
	t.Helper()
	_, err := f.dir.CreateActor(context.Background(), identifier, domain.Profile{DisplayName: identifier})
	require.NoError(t, err)
}

// handle decodes body and runs it through the processor without a
// verified signer.
func (f *fixture) handle(t *testing.T, body string) error {
	t.Helper()
	activity, err := ParseActivity([]byte(body))
	require.NoError(t, err)
	return f.proc.Handle(context.Background(), activity, "")
}
