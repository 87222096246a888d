package web

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebfinger(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.createActor(t, "alice")

	for _, resource := range []string{
		"acct:alice@example.com",
		"acct:Alice@EXAMPLE.com",
		"https://example.com/users/alice",
	} {
		w := ts.get("/.well-known/webfinger?resource=" + url.QueryEscape(resource))
		require.Equal(t, http.StatusOK, w.Code, resource)
		assert.Contains(t, w.Header().Get("Content-Type"), "application/jrd+json")

		doc := decode(t, w)
		assert.Equal(t, "acct:alice@example.com", doc["subject"])
		links := doc["links"].([]interface{})
		require.Len(t, links, 1)
		self := links[0].(map[string]interface{})
		assert.Equal(t, "self", self["rel"])
		assert.Equal(t, "application/activity+json", self["type"])
		assert.Equal(t, "https://example.com/users/alice", self["href"])
	}
}

func TestWebfingerNotFound(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.createActor(t, "alice")

	for _, resource := range []string{
		"",
		"alice",
		"acct:alice",
		"acct:alice@other.example",
		"acct:nobody@example.com",
		"acct:../alice@example.com",
		"https://other.example/users/alice",
		"https://example.com/users/alice/outbox",
	} {
		w := ts.get("/.well-known/webfinger?resource=" + url.QueryEscape(resource))
		assert.Equal(t, http.StatusNotFound, w.Code, resource)
		assert.JSONEq(t, `{"detail":"Not Found"}`, w.Body.String(), resource)
	}
}
