package activitypub

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/deemkeen/fedgate/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCursor(t *testing.T) {
	tests := []struct {
		cursor string
		want   int
	}{
		{"", 0},
		{"0", 0},
		{"10", 10},
		{"-5", 0},
		{"abc", 0},
		{"1.5", 0},
	}
	for _, tt := range tests {
		if got := ParseCursor(tt.cursor); got != tt.want {
			t.Errorf("ParseCursor(%q) = %d, want %d", tt.cursor, got, tt.want)
		}
	}
}

func TestPaginationCompleteness(t *testing.T) {
	for _, n := range []int{0, 1, 9, 10, 11, 20, 25} {
		t.Run(fmt.Sprintf("%d records", n), func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			f.createActor(t, "alice")

			base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
			for i := 0; i < n; i++ {
				// every third record shares a timestamp with the previous one
				published := base.Add(time.Duration(i-i%3) * time.Minute)
				require.NoError(t, f.ledger.Append(ctx, record(fmt.Sprintf("a%d", i), domain.TypeLike, "alice", published)))
			}

			seen := make(map[string]int)
			cursor := ""
			pages := 0
			for {
				page, err := f.pager.Page(ctx, "alice", cursor)
				require.NoError(t, err)
				assert.LessOrEqual(t, len(page.Items), PageSize)
				assert.Equal(t, n, page.TotalItems)
				for _, item := range page.Items {
					seen[item.ID]++
				}
				pages++
				if page.Next == nil {
					break
				}
				cursor = *page.Next
				require.Less(t, pages, 10, "pagination does not terminate")
			}

			assert.Len(t, seen, n)
			for id, count := range seen {
				assert.Equal(t, 1, count, id)
			}
		})
	}
}

func TestPageWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createActor(t, "alice")

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 15; i++ {
		require.NoError(t, f.ledger.Append(ctx, record(fmt.Sprintf("a%02d", i), domain.TypeLike, "alice", base.Add(time.Duration(i)*time.Minute))))
	}

	first, err := f.pager.Page(ctx, "alice", "")
	require.NoError(t, err)
	require.Len(t, first.Items, 10)
	assert.Equal(t, "a14", first.Items[0].ID)
	require.NotNil(t, first.Next)
	assert.Equal(t, "10", *first.Next)

	second, err := f.pager.Page(ctx, "alice", *first.Next)
	require.NoError(t, err)
	require.Len(t, second.Items, 5)
	assert.Equal(t, "a00", second.Items[4].ID)
	assert.Nil(t, second.Next)

	invalid, err := f.pager.Page(ctx, "alice", "garbage")
	require.NoError(t, err)
	assert.Equal(t, first.Items[0].ID, invalid.Items[0].ID)

	beyond, err := f.pager.Page(ctx, "alice", "100")
	require.NoError(t, err)
	assert.Empty(t, beyond.Items)
	assert.Nil(t, beyond.Next)
}

func TestPageUnknownActor(t *testing.T) {
	f := newFixture(t)
	_, err := f.pager.Page(context.Background(), "nobody", "")
	assert.True(t, errors.Is(err, domain.ErrNotFound), "got %v", err)
}

func TestPageLikeEnrichment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createActor(t, "alice")

	create, err := f.pub.Publish(ctx, "alice", "hello world")
	require.NoError(t, err)

	for i, liker := range []string{"https://remote.example/users/bob", "https://remote.example/users/dave", "https://remote.example/users/bob"} {
		body := fmt.Sprintf(`{"id":"l%d","type":"Like","actor":%q,"object":%q}`, i, liker, create.ObjectURI)
		require.NoError(t, f.handle(t, body))
	}

	page, err := f.pager.Page(ctx, "alice", "")
	require.NoError(t, err)

	var found *PageItem
	for i := range page.Items {
		if page.Items[i].Type == domain.TypeCreate {
			found = &page.Items[i]
		}
	}
	require.NotNil(t, found)
	require.NotNil(t, found.Likes)
	assert.Equal(t, 2, found.Likes.Count)
	assert.Equal(t, []string{"https://remote.example/users/bob", "https://remote.example/users/dave"}, found.Likes.Actors)

	for _, item := range page.Items {
		if item.Type == domain.TypeLike {
			assert.Nil(t, item.Likes)
		}
	}
}

func TestPublish(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createActor(t, "alice")

	require.NoError(t, f.ledger.UpsertFollowEdge(ctx, bobURI, "alice", domain.EdgeAccepted, "f1"))
	require.NoError(t, f.ledger.UpsertFollowEdge(ctx, "https://remote.example/users/dave", "alice", domain.EdgeAccepted, "f2"))

	create, err := f.pub.Publish(ctx, "alice", "hello")
	require.NoError(t, err)
	assert.Equal(t, domain.TypeCreate, create.Type)
	assert.True(t, create.Local)
	assert.Contains(t, create.ObjectURI, "https://example.com/users/alice/notes/")
	assert.Equal(t, "hello", create.Object["content"])

	var recipients []string
	for _, s := range f.delivery.all() {
		recipients = append(recipients, s.recipient)
		assert.Equal(t, create.ID, s.activity.ID)
	}
	assert.ElementsMatch(t, []string{bobURI, "https://remote.example/users/dave"}, recipients)

	_, err = f.pub.Publish(ctx, "nobody", "hello")
	assert.True(t, errors.Is(err, domain.ErrNotFound), "got %v", err)
}

func TestPublisherFollow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createActor(t, "alice")

	follow, err := f.pub.Follow(ctx, "alice", bobURI)
	require.NoError(t, err)
	assert.Equal(t, bobURI, follow.ObjectURI)

	following, err := f.ledger.FollowingOf(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{bobURI}, following)

	sent := f.delivery.all()
	require.Len(t, sent, 1)
	assert.Equal(t, bobURI, sent[0].recipient)

	_, err = f.pub.Follow(ctx, "alice", "alice")
	assert.True(t, errors.Is(err, domain.ErrInvalidInput), "got %v", err)
}
