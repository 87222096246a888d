package activitypub

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/deemkeen/fedgate/cache"
	"github.com/deemkeen/fedgate/domain"
	"github.com/deemkeen/fedgate/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateActor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	actor, err := f.dir.CreateActor(ctx, "alice", domain.Profile{DisplayName: "Alice", Summary: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "alice", actor.Identifier)
	assert.Equal(t, "https://example.com/users/alice/inbox", actor.InboxURI)
	assert.Equal(t, "https://example.com/users/alice/followers", actor.FollowersURI)
	assert.False(t, actor.HasKeys(), "creation must not generate keys")

	_, err = f.dir.CreateActor(ctx, "alice", domain.Profile{})
	assert.True(t, errors.Is(err, domain.ErrAlreadyExists), "got %v", err)

	exists, err := f.dir.Exists(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = f.dir.Exists(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCreateActorRejectsInvalidIdentifier(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"", "Alice", "a b", strings.Repeat("a", 65)} {
		_, err := f.dir.CreateActor(context.Background(), id, domain.Profile{})
		assert.True(t, errors.Is(err, domain.ErrInvalidInput), "%q: got %v", id, err)
	}
}

func TestConcurrentCreateActor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var created, conflicts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.dir.CreateActor(ctx, "alice", domain.Profile{})
			switch {
			case err == nil:
				created.Add(1)
			case errors.Is(err, domain.ErrAlreadyExists):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), created.Load())
	assert.Equal(t, int32(7), conflicts.Load())
}

func TestGetActor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.dir.GetActor(ctx, "alice")
	assert.True(t, errors.Is(err, domain.ErrNotFound), "got %v", err)

	f.createActor(t, "alice")
	require.NoError(t, f.ledger.UpsertFollowEdge(ctx, "https://remote.example/users/bob", "alice", domain.EdgeAccepted, "f1"))

	actor, err := f.dir.GetActor(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", actor.Identifier)
	assert.Equal(t, 1, actor.FollowerCount)
	assert.Equal(t, 0, actor.FollowingCount)
	assert.True(t, f.mr.Exists(cache.ActorKey("alice").String()))
}

func TestGetOrGenerateKeyPair(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.dir.GetOrGenerateKeyPair(ctx, "nobody")
	assert.True(t, errors.Is(err, domain.ErrNotFound), "got %v", err)

	f.createActor(t, "alice")

	// Cache the keyless actor first, generation must invalidate it.
	before, err := f.dir.GetActor(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, before.HasKeys())

	kp, err := f.dir.GetOrGenerateKeyPair(ctx, "alice")
	require.NoError(t, err)
	assert.Contains(t, kp.PublicKeyPem, "BEGIN PUBLIC KEY")
	assert.Contains(t, kp.PrivateKeyPem, "BEGIN RSA PRIVATE KEY")

	again, err := f.dir.GetOrGenerateKeyPair(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, kp.PublicKeyPem, again.PublicKeyPem)

	after, err := f.dir.GetActor(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, kp.PublicKeyPem, after.PublicKey)
	assert.Empty(t, after.PrivateKey)
}

func TestGetOrGenerateKeyPairExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createActor(t, "alice")

	var generated atomic.Int32
	f.dir.keygen = func() (*util.RsaKeyPair, error) {
		generated.Add(1)
		return util.GeneratePemKeypair(1024)
	}

	const callers = 10
	results := make([]*domain.KeyPair, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			kp, err := f.dir.GetOrGenerateKeyPair(ctx, "alice")
			if err != nil {
				t.Errorf("GetOrGenerateKeyPair: %v", err)
				return
			}
			results[i] = kp
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		require.NotNil(t, results[i])
		assert.Equal(t, results[0].PublicKeyPem, results[i].PublicKeyPem)
		assert.Equal(t, results[0].PrivateKeyPem, results[i].PrivateKeyPem)
	}
	assert.GreaterOrEqual(t, generated.Load(), int32(1))
}

func TestKeyPairGenerationSurvivesCancelledCaller(t *testing.T) {
	f := newFixture(t)
	f.createActor(t, "alice")

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.dir.keygen = func() (*util.RsaKeyPair, error) {
		once.Do(func() { close(started) })
		<-release
		return util.GeneratePemKeypair(1024)
	}

	firstCtx, cancel := context.WithCancel(context.Background())
	type result struct {
		kp  *domain.KeyPair
		err error
	}
	first := make(chan result, 1)
	go func() {
		kp, err := f.dir.GetOrGenerateKeyPair(firstCtx, "alice")
		first <- result{kp, err}
	}()
	<-started

	second := make(chan result, 1)
	go func() {
		kp, err := f.dir.GetOrGenerateKeyPair(context.Background(), "alice")
		second <- result{kp, err}
	}()
	time.Sleep(50 * time.Millisecond)

	// the caller that started the generation goes away
	cancel()
	close(release)

	r1, r2 := <-first, <-second
	require.NoError(t, r2.err)
	require.NoError(t, r1.err)
	assert.Equal(t, r1.kp.PublicKeyPem, r2.kp.PublicKeyPem)

	stored, err := f.dir.GetOrGenerateKeyPair(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, r2.kp.PrivateKeyPem, stored.PrivateKeyPem)
}

func TestKeyPairConflictReturnsWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createActor(t, "alice")

	winner, err := f.dir.generateKeyPair(ctx, "alice")
	require.NoError(t, err)

	// A second generation loses the conditional write and re-reads.
	loser, err := f.dir.generateKeyPair(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, winner.PrivateKeyPem, loser.PrivateKeyPem)
}

func TestPrivateKeyNeverCached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createActor(t, "alice")

	kp, err := f.dir.GetOrGenerateKeyPair(ctx, "alice")
	require.NoError(t, err)
	_, err = f.dir.GetActor(ctx, "alice")
	require.NoError(t, err)

	raw, err := f.mr.Get(cache.ActorKey("alice").String())
	require.NoError(t, err)
	assert.NotContains(t, raw, "PRIVATE KEY")
	assert.NotContains(t, raw, kp.PrivateKeyPem)
}

func TestUpdateProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createActor(t, "alice")

	_, err := f.dir.GetActor(ctx, "alice")
	require.NoError(t, err)

	require.NoError(t, f.dir.UpdateProfile(ctx, "alice", domain.Profile{DisplayName: "Alice A.", Summary: "new"}))

	actor, err := f.dir.GetActor(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice A.", actor.DisplayName)
	assert.Equal(t, "new", actor.Summary)

	err = f.dir.UpdateProfile(ctx, "nobody", domain.Profile{})
	assert.True(t, errors.Is(err, domain.ErrNotFound), "got %v", err)
}

func TestListActors(t *testing.T) {
	f := newFixture(t)
	f.createActor(t, "carol")
	f.createActor(t, "alice")

	ids, err := f.dir.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "carol"}, ids)
}

func TestParseIdentifier(t *testing.T) {
	f := newFixture(t)

	id, ok := f.dir.ParseIdentifier(f.dir.ActorURI("alice"))
	assert.True(t, ok)
	assert.Equal(t, "alice", id)

	_, ok = f.dir.ParseIdentifier("https://remote.example/users/alice")
	assert.False(t, ok)
}
