package web

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/deemkeen/fedgate/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeed(t *testing.T) {
	ts := newTestServer(t, func(c *util.AppConfig) { c.Conf.VerifySignatures = false })
	ts.createActor(t, "alice")
	ctx := context.Background()

	_, err := ts.publisher.Publish(ctx, "alice", "first post")
	require.NoError(t, err)
	_, err = ts.publisher.Publish(ctx, "alice", "see [the docs](https://docs.example/start)")
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, ts.post("/inbox", followBody).Code)

	w := ts.get("/users/alice/feed")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/xml")

	body := w.Body.String()
	assert.Contains(t, body, "<rss")
	assert.Contains(t, body, "ALICE")
	assert.Contains(t, body, "first post")
	assert.Contains(t, body, "https://docs.example/start")
	assert.Equal(t, 2, strings.Count(body, "<item>"), "only notes are listed")
}

func TestFeedUnknownActor(t *testing.T) {
	ts := newTestServer(t, nil)

	assert.Equal(t, http.StatusNotFound, ts.get("/users/nobody/feed").Code)
}

func TestGetRSSEmpty(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.createActor(t, "alice")

	rss, err := ts.GetRSS(context.Background(), "alice")
	require.NoError(t, err)
	assert.Contains(t, rss, "<channel>")
	assert.NotContains(t, rss, "<item>")
}
