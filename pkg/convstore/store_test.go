package convstore

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/pkg/wire"
)

// fakeFetcher serves canned hydration pages and records mutations.
type fakeFetcher struct {
	mu        sync.Mutex
	pages     map[string][]wire.Message
	getBlock  chan struct{}
	getCalls  []string
	sendCalls []string
	sendErr   error
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{pages: make(map[string][]wire.Message)}
}

func (f *fakeFetcher) Get(ctx context.Context, path string, out any) error {
	f.mu.Lock()
	f.getCalls = append(f.getCalls, path)
	block := f.getBlock
	f.mu.Unlock()

	if block != nil {
		<-block
	}

	conversationID := strings.TrimPrefix(path, "/conversations/")
	conversationID = conversationID[:strings.Index(conversationID, "/")]

	f.mu.Lock()
	page := struct {
		Messages []wire.Message `json:"messages"`
	}{Messages: f.pages[conversationID]}
	f.mu.Unlock()

	raw, err := json.Marshal(page)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (f *fakeFetcher) SendJSON(ctx context.Context, method, path string, body, out any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCalls = append(f.sendCalls, method+" "+path)
	return f.sendErr
}

func msg(id, conversationID, senderID string, at time.Time) wire.Message {
	return wire.Message{ID: id, ConversationID: conversationID, SenderID: senderID, CreatedAt: at}
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestHydrateThenDuplicatePushIsNoop(t *testing.T) {
	api := newFakeFetcher()
	api.pages["c1"] = []wire.Message{
		msg("m1", "c1", "u2", t0),
		msg("m2", "c1", "u2", t0.Add(time.Second)),
	}

	store := NewStore(api, "u1")
	store.Activate("c1", "u2")
	require.NoError(t, store.Hydrate(context.Background(), "c1"))

	store.IngestPushed(msg("m2", "c1", "u2", t0.Add(time.Second)))

	msgs := store.Messages("c1")
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "m2", msgs[1].ID)
}

func TestIngestPushedIsIdempotent(t *testing.T) {
	store := NewStore(newFakeFetcher(), "u1")
	store.Activate("c1", "u2")

	m := msg("m1", "c1", "u2", t0)
	store.IngestPushed(m)
	store.IngestPushed(m)

	assert.Len(t, store.Messages("c1"), 1)
}

func TestMergeIsCommutative(t *testing.T) {
	api := newFakeFetcher()
	api.pages["c1"] = []wire.Message{
		msg("m1", "c1", "u2", t0),
		msg("m3", "c1", "u2", t0.Add(2*time.Second)),
	}
	pushed := msg("m2", "c1", "u2", t0.Add(time.Second))

	// Push before hydrate.
	a := NewStore(api, "u1")
	a.Activate("c1", "u2")
	a.IngestPushed(pushed)
	require.NoError(t, a.Hydrate(context.Background(), "c1"))

	// Hydrate before push.
	b := NewStore(api, "u1")
	b.Activate("c1", "u2")
	require.NoError(t, b.Hydrate(context.Background(), "c1"))
	b.IngestPushed(pushed)

	idsOf := func(msgs []wire.Message) []string {
		ids := make([]string, len(msgs))
		for i, m := range msgs {
			ids[i] = m.ID
		}
		return ids
	}
	assert.Equal(t, []string{"m1", "m2", "m3"}, idsOf(a.Messages("c1")))
	assert.Equal(t, idsOf(a.Messages("c1")), idsOf(b.Messages("c1")))
}

func TestEqualTimestampsKeepInsertionOrder(t *testing.T) {
	api := newFakeFetcher()
	api.pages["c1"] = []wire.Message{
		msg("mB", "c1", "u2", t0),
		msg("mA", "c1", "u2", t0),
	}

	store := NewStore(api, "u1")
	store.Activate("c1", "u2")
	require.NoError(t, store.Hydrate(context.Background(), "c1"))

	// A pushed message with the same timestamp lands after the page
	// entries, not re-sorted by id.
	store.IngestPushed(msg("mAA", "c1", "u2", t0))

	msgs := store.Messages("c1")
	require.Len(t, msgs, 3)
	assert.Equal(t, "mB", msgs[0].ID)
	assert.Equal(t, "mA", msgs[1].ID)
	assert.Equal(t, "mAA", msgs[2].ID)
}

func TestOrderIsMonotonic(t *testing.T) {
	store := NewStore(newFakeFetcher(), "u1")
	store.Activate("c1", "u2")

	store.IngestPushed(msg("m3", "c1", "u2", t0.Add(3*time.Second)))
	store.IngestPushed(msg("m1", "c1", "u2", t0.Add(time.Second)))
	store.IngestPushed(msg("m2", "c1", "u2", t0.Add(2*time.Second)))

	msgs := store.Messages("c1")
	for i := 1; i < len(msgs); i++ {
		assert.False(t, msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt))
	}
	assert.Equal(t, "m1", msgs[0].ID)
}

func TestOptimisticConfirmAndEchoDedupe(t *testing.T) {
	store := NewStore(newFakeFetcher(), "u1")
	store.Activate("c1", "u2")

	localID := store.AppendOptimistic("c1", wire.Message{Content: "hi", CreatedAt: t0})
	require.Len(t, store.Messages("c1"), 1)

	confirmed := msg("s1", "c1", "u1", t0.Add(time.Second))
	confirmed.Content = "hi"
	store.Confirm("c1", localID, confirmed)

	// The echoed push for the confirmed id must not duplicate.
	store.IngestPushed(confirmed)

	msgs := store.Messages("c1")
	require.Len(t, msgs, 1)
	assert.Equal(t, "s1", msgs[0].ID)
	for _, m := range msgs {
		assert.False(t, strings.HasPrefix(m.ID, "local-"))
	}
}

func TestConfirmWhenPushArrivedFirst(t *testing.T) {
	store := NewStore(newFakeFetcher(), "u1")
	store.Activate("c1", "u2")

	confirmed := msg("s1", "c1", "u1", t0)
	store.IngestPushed(confirmed)

	localID := store.AppendOptimistic("c1", wire.Message{Content: "hi", CreatedAt: t0})
	store.Confirm("c1", localID, confirmed)

	assert.Len(t, store.Messages("c1"), 1)
}

func TestConfirmAfterDeactivateIsNoop(t *testing.T) {
	store := NewStore(newFakeFetcher(), "u1")
	store.Activate("c1", "u2")

	localID := store.AppendOptimistic("c1", wire.Message{Content: "hi", CreatedAt: t0})
	store.Deactivate("c1")

	store.Confirm("c1", localID, msg("s1", "c1", "u1", t0.Add(time.Second)))
	assert.Empty(t, store.Messages("c1"))
}

func TestDiscardRemovesProvisionalEntry(t *testing.T) {
	store := NewStore(newFakeFetcher(), "u1")
	store.Activate("c1", "u2")

	localID := store.AppendOptimistic("c1", wire.Message{Content: "hi", CreatedAt: t0})
	store.Discard("c1", localID)

	assert.Empty(t, store.Messages("c1"))
}

func TestLatePushAfterDeactivateIsNoop(t *testing.T) {
	store := NewStore(newFakeFetcher(), "u1")
	store.Activate("c1", "u2")
	store.Deactivate("c1")

	store.IngestPushed(msg("m1", "c1", "u2", t0))
	assert.Empty(t, store.Messages("c1"))
}

func TestLateHydrateResponseAfterDeactivateIsDiscarded(t *testing.T) {
	api := newFakeFetcher()
	api.pages["c1"] = []wire.Message{msg("m1", "c1", "u2", t0)}
	api.getBlock = make(chan struct{})

	store := NewStore(api, "u1")
	store.Activate("c1", "u2")

	done := make(chan error, 1)
	go func() {
		done <- store.Hydrate(context.Background(), "c1")
	}()

	// Tear the screen down while the fetch is still in flight.
	time.Sleep(20 * time.Millisecond)
	store.Deactivate("c1")
	close(api.getBlock)

	require.NoError(t, <-done)
	assert.Empty(t, store.Messages("c1"))
}

func TestUnreadCountAndMarkRead(t *testing.T) {
	api := newFakeFetcher()
	store := NewStore(api, "u1")
	store.Activate("c1", "u2")

	store.IngestPushed(msg("m1", "c1", "u2", t0))
	store.IngestPushed(msg("m2", "c1", "u2", t0.Add(time.Second)))
	mine := msg("m3", "c1", "u1", t0.Add(2*time.Second))
	store.IngestPushed(mine)

	// Own messages never count as unread.
	assert.Equal(t, 2, store.UnreadCount("c1"))

	store.MarkRead(context.Background(), "c1", []string{"m1", "m2"})
	assert.Equal(t, 0, store.UnreadCount("c1"))

	api.mu.Lock()
	defer api.mu.Unlock()
	require.Len(t, api.sendCalls, 1)
	assert.Equal(t, "POST /conversations/c1/read", api.sendCalls[0])
}

func TestMarkReadSwallowsServerFailure(t *testing.T) {
	api := newFakeFetcher()
	api.sendErr = assert.AnError

	store := NewStore(api, "u1")
	store.Activate("c1", "u2")
	store.IngestPushed(msg("m1", "c1", "u2", t0))

	store.MarkRead(context.Background(), "c1", []string{"m1"})
	assert.Equal(t, 0, store.UnreadCount("c1"))
}

func TestOnChangeNotifiesAndUnsubscribes(t *testing.T) {
	store := NewStore(newFakeFetcher(), "u1")
	store.Activate("c1", "u2")

	var mu sync.Mutex
	var changes []string
	unsubscribe := store.OnChange(func(conversationID string) {
		mu.Lock()
		changes = append(changes, conversationID)
		mu.Unlock()
	})

	store.IngestPushed(msg("m1", "c1", "u2", t0))
	unsubscribe()
	store.IngestPushed(msg("m2", "c1", "u2", t0.Add(time.Second)))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"c1"}, changes)
}

func TestRehydrateActiveCoversReconnectGap(t *testing.T) {
	api := newFakeFetcher()
	api.pages["c1"] = []wire.Message{msg("m1", "c1", "u2", t0)}
	api.pages["c2"] = []wire.Message{msg("m2", "c2", "u3", t0)}

	store := NewStore(api, "u1")
	store.Activate("c1", "u2")
	store.Activate("c2", "u3")
	store.Deactivate("c2")

	store.RehydrateActive(context.Background())

	assert.Len(t, store.Messages("c1"), 1)
	assert.Empty(t, store.Messages("c2"))

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Len(t, api.getCalls, 1)
}
