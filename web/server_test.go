package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/deemkeen/fedgate/activitypub"
	"github.com/deemkeen/fedgate/cache"
	"github.com/deemkeen/fedgate/db"
	"github.com/deemkeen/fedgate/domain"
	"github.com/deemkeen/fedgate/ratelimit"
	"github.com/deemkeen/fedgate/util"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// outbound records what the processor and publisher hand to delivery.
type outbound struct {
	mu   sync.Mutex
	sent []*domain.Activity
}

func (o *outbound) Deliver(_ context.Context, _, _ string, activity *domain.Activity) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, activity)
	return nil
}

type testServer struct {
	*Server
	router    *gin.Engine
	store     *db.SQLiteStore
	publisher *activitypub.Publisher
	delivery  *outbound
}

// newTestServer wires a Server over an in-memory store and miniredis.
// configure may adjust the config before the router is built.
func newTestServer(t *testing.T, configure func(*util.AppConfig)) *testServer {
	t.Helper()

	conf := &util.AppConfig{}
	conf.Conf.Protocol = "https"
	conf.Conf.SslDomain = "example.com"
	conf.Conf.RateLimit = 100
	conf.Conf.RateWindow = 60
	conf.Conf.InboxRate = 100
	conf.Conf.InboxBurst = 100
	if configure != nil {
		configure(conf)
	}

	store, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	c := cache.NewRedisCache(rdb)
	links := activitypub.NewLinks(conf.BaseURL())
	ledger := activitypub.NewLedger(store, c, links)
	dir := activitypub.NewDirectory(store, c, ledger, links, activitypub.RSAKeyGenerator(1024))
	delivery := &outbound{}

	s := &Server{
		Conf:      conf,
		Links:     links,
		Directory: dir,
		Ledger:    ledger,
		Paginator: activitypub.NewPaginator(dir, ledger),
		Processor: activitypub.NewProcessor(dir, ledger, links, delivery),
		Verifier:  activitypub.NewSignatureVerifier(activitypub.NewRemoteActors(nil, c)),
		Limiter:   ratelimit.New(rdb),
		Checks: map[string]HealthCheck{
			"store": store.Ping,
			"cache": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		},
	}

	return &testServer{
		Server:    s,
		router:    NewRouter(s),
		store:     store,
		publisher: activitypub.NewPublisher(dir, ledger, links, delivery),
		delivery:  delivery,
	}
}

func (ts *testServer) createActor(t *testing.T, identifier string) {
	t.Helper()
	_, err := ts.Directory.CreateActor(context.Background(), identifier, domain.Profile{DisplayName: strings.ToUpper(identifier)})
	require.NoError(t, err)
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func (ts *testServer) get(path string) *httptest.ResponseRecorder {
	return ts.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (ts *testServer) post(path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/activity+json")
	return ts.do(req)
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc), w.Body.String())
	return doc
}
