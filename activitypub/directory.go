package activitypub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/deemkeen/fedgate/cache"
	"github.com/deemkeen/fedgate/db"
	"github.com/deemkeen/fedgate/domain"
	"github.com/deemkeen/fedgate/util"
	"golang.org/x/sync/singleflight"
)

const actorTTL = 600 * time.Second

const (
	actorPrefix = "ACTOR#"
	profileSK   = "PROFILE"
	keyPairSK   = "KEYPAIR"
	actorsIndex = "ACTORS"
)

// KeyGenerator creates a new PEM encoded key pair.
type KeyGenerator func() (*util.RsaKeyPair, error)

// RSAKeyGenerator returns a KeyGenerator for RSA keys of the given size.
func RSAKeyGenerator(bits int) KeyGenerator {
	return func() (*util.RsaKeyPair, error) {
		return util.GeneratePemKeypair(bits)
	}
}

type profileRecord struct {
	Identifier  string    `json:"identifier"`
	DisplayName string    `json:"displayName"`
	Summary     string    `json:"summary"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Directory holds the profiles and key pairs of local actors.
type Directory struct {
	store  db.Store
	cache  cache.Cache
	ledger *Ledger
	links  Links
	keygen KeyGenerator
	group  singleflight.Group
}

func NewDirectory(store db.Store, c cache.Cache, ledger *Ledger, links Links, keygen KeyGenerator) *Directory {
	return &Directory{store: store, cache: c, ledger: ledger, links: links, keygen: keygen}
}

func (d *Directory) ActorURI(identifier string) string {
	return d.links.Actor(identifier)
}

// ParseIdentifier accepts a local actor URI or a bare identifier.
func (d *Directory) ParseIdentifier(uri string) (string, bool) {
	return d.links.LocalActor(uri)
}

// GetActor returns the actor with its public key and follower counts. The
// private key is never part of the result; signers use
// GetOrGenerateKeyPair.
func (d *Directory) GetActor(ctx context.Context, identifier string) (*domain.Actor, error) {
	return cache.GetOrCompute(ctx, d.cache, cache.ActorKey(identifier), actorTTL,
		func(ctx context.Context) (*domain.Actor, error) {
			return d.loadActor(ctx, identifier)
		})
}

func (d *Directory) loadActor(ctx context.Context, identifier string) (*domain.Actor, error) {
	profile, err := d.getProfile(ctx, identifier)
	if err != nil {
		return nil, err
	}
	actor := d.newActor(profile)

	kp, err := d.getKeyPair(ctx, identifier)
	switch {
	case err == nil:
		actor.PublicKey = kp.PublicKeyPem
	case !errors.Is(err, domain.ErrNotFound):
		return nil, err
	}

	if actor.FollowerCount, err = d.ledger.FollowerCount(ctx, identifier); err != nil {
		return nil, err
	}
	if actor.FollowingCount, err = d.ledger.FollowingCount(ctx, identifier); err != nil {
		return nil, err
	}
	return actor, nil
}

// CreateActor registers a new actor without keys. It fails with
// domain.ErrAlreadyExists when the identifier is taken.
func (d *Directory) CreateActor(ctx context.Context, identifier string, profile domain.Profile) (*domain.Actor, error) {
	if !ValidIdentifier(identifier) {
		return nil, fmt.Errorf("%w: invalid identifier %q", domain.ErrInvalidInput, identifier)
	}

	rec := &profileRecord{
		Identifier:  identifier,
		DisplayName: profile.DisplayName,
		Summary:     profile.Summary,
		CreatedAt:   time.Now().UTC(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal profile: %w", err)
	}

	err = d.store.PutIfAbsent(ctx, &db.Item{
		PK:     actorPrefix + identifier,
		SK:     profileSK,
		GSI1PK: actorsIndex,
		GSI1SK: identifier,
		Data:   data,
	})
	if errors.Is(err, db.ErrConditionFailed) {
		return nil, fmt.Errorf("actor %s: %w", identifier, domain.ErrAlreadyExists)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create actor %s: %w", identifier, err)
	}

	cache.Invalidate(ctx, d.cache, cache.ActorKey(identifier))
	return d.newActor(rec), nil
}

// UpdateProfile replaces the mutable profile fields of an actor.
func (d *Directory) UpdateProfile(ctx context.Context, identifier string, profile domain.Profile) error {
	item, err := d.store.Get(ctx, actorPrefix+identifier, profileSK)
	if err != nil {
		return err
	}
	var rec profileRecord
	if err := json.Unmarshal(item.Data, &rec); err != nil {
		return fmt.Errorf("failed to decode profile: %w", err)
	}
	rec.DisplayName = profile.DisplayName
	rec.Summary = profile.Summary

	if item.Data, err = json.Marshal(rec); err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}
	item.UpdatedAt = time.Now().UTC()
	if err := d.store.Put(ctx, item); err != nil {
		return fmt.Errorf("failed to update actor %s: %w", identifier, err)
	}
	cache.Invalidate(ctx, d.cache, cache.ActorKey(identifier))
	return nil
}

func (d *Directory) Exists(ctx context.Context, identifier string) (bool, error) {
	_, err := d.store.Get(ctx, actorPrefix+identifier, profileSK)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// List returns the identifiers of all local actors in sorted order.
func (d *Directory) List(ctx context.Context) ([]string, error) {
	items, err := d.store.QueryIndex(ctx, db.GSI1, actorsIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to list actors: %w", err)
	}
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.GSI1SK)
	}
	return ids, nil
}

// GetOrGenerateKeyPair returns the actor's key pair, generating it on first
// use. Concurrent first calls all return the same pair: the first
// conditional write wins and the others re-read it.
func (d *Directory) GetOrGenerateKeyPair(ctx context.Context, identifier string) (*domain.KeyPair, error) {
	kp, err := d.getKeyPair(ctx, identifier)
	if err == nil {
		return kp, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	exists, err := d.Exists(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("actor %s: %w", identifier, domain.ErrNotFound)
	}

	// Collapse concurrent generation inside this process; the conditional
	// write below covers other processes sharing the store. The shared call
	// outlives the caller that started it.
	v, err, _ := d.group.Do(identifier, func() (interface{}, error) {
		return d.generateKeyPair(context.WithoutCancel(ctx), identifier)
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.KeyPair), nil
}

func (d *Directory) generateKeyPair(ctx context.Context, identifier string) (*domain.KeyPair, error) {
	pair, err := d.keygen()
	if err != nil {
		return nil, fmt.Errorf("failed to generate keys for %s: %w", identifier, err)
	}
	kp := &domain.KeyPair{
		PublicKeyPem:  pair.Public,
		PrivateKeyPem: pair.Private,
		CreatedAt:     time.Now().UTC(),
	}
	data, err := json.Marshal(kp)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal key pair: %w", err)
	}

	err = d.store.PutIfAbsent(ctx, &db.Item{PK: actorPrefix + identifier, SK: keyPairSK, Data: data})
	if errors.Is(err, db.ErrConditionFailed) {
		return d.getKeyPair(ctx, identifier)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to store keys for %s: %w", identifier, err)
	}

	cache.Invalidate(ctx, d.cache, cache.ActorKey(identifier))
	return kp, nil
}

func (d *Directory) getProfile(ctx context.Context, identifier string) (*profileRecord, error) {
	item, err := d.store.Get(ctx, actorPrefix+identifier, profileSK)
	if err != nil {
		return nil, err
	}
	var rec profileRecord
	if err := json.Unmarshal(item.Data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}
	return &rec, nil
}

func (d *Directory) getKeyPair(ctx context.Context, identifier string) (*domain.KeyPair, error) {
	item, err := d.store.Get(ctx, actorPrefix+identifier, keyPairSK)
	if err != nil {
		return nil, err
	}
	var kp domain.KeyPair
	if err := json.Unmarshal(item.Data, &kp); err != nil {
		return nil, fmt.Errorf("failed to decode key pair: %w", err)
	}
	return &kp, nil
}

func (d *Directory) newActor(p *profileRecord) *domain.Actor {
	return &domain.Actor{
		Identifier:   p.Identifier,
		DisplayName:  p.DisplayName,
		Summary:      p.Summary,
		InboxURI:     d.links.Inbox(p.Identifier),
		OutboxURI:    d.links.Outbox(p.Identifier),
		FollowersURI: d.links.Followers(p.Identifier),
		FollowingURI: d.links.Following(p.Identifier),
		CreatedAt:    p.CreatedAt,
	}
}
