package activitypub

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/deemkeen/fedgate/util"
	"github.com/stretchr/testify/require"
)

// remotePeer is a fake remote server hosting one actor, bob, whose inbox
// is served by inbox.
type remotePeer struct {
	*httptest.Server
	keys        *util.RsaKeyPair
	actorHits   atomic.Int32
	omitKey     atomic.Bool
	inbox       http.HandlerFunc
	actorStatus atomic.Int32
}

func newRemotePeer(t *testing.T, inbox http.HandlerFunc) *remotePeer {
	t.Helper()
	keys, err := util.GeneratePemKeypair(1024)
	require.NoError(t, err)

	p := &remotePeer{keys: keys, inbox: inbox}
	mux := http.NewServeMux()
	mux.HandleFunc("/users/bob", func(w http.ResponseWriter, r *http.Request) {
		p.actorHits.Add(1)
		if status := p.actorStatus.Load(); status != 0 {
			w.WriteHeader(int(status))
			return
		}
		w.Header().Set("Content-Type", "application/activity+json")
		json.NewEncoder(w).Encode(p.actorDocument())
	})
	mux.HandleFunc("/users/bob/inbox", func(w http.ResponseWriter, r *http.Request) {
		if p.inbox == nil {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		p.inbox(w, r)
	})
	p.Server = httptest.NewServer(mux)
	t.Cleanup(p.Close)
	return p
}

func (p *remotePeer) actorURI() string {
	return p.URL + "/users/bob"
}

func (p *remotePeer) actorDocument() map[string]interface{} {
	doc := map[string]interface{}{
		"@context":          ContextActivityStreams,
		"id":                p.actorURI(),
		"type":              "Person",
		"preferredUsername": "bob",
		"name":              "Bob",
		"inbox":             p.actorURI() + "/inbox",
		"outbox":            p.actorURI() + "/outbox",
		"endpoints":         map[string]string{"sharedInbox": p.URL + "/inbox"},
	}
	if !p.omitKey.Load() {
		doc["publicKey"] = map[string]string{
			"id":           p.actorURI() + "#main-key",
			"owner":        p.actorURI(),
			"publicKeyPem": p.keys.Public,
		}
	}
	return doc
}
