package clients

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/queuepro/queuepro/internal/broadcast"
	"github.com/queuepro/queuepro/internal/httpapi"
	"github.com/queuepro/queuepro/internal/models"
	"github.com/queuepro/queuepro/internal/queue"
	"github.com/queuepro/queuepro/internal/queueview"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The client must be usable as the reconciliation engine's snapshot source.
var _ queueview.Fetcher = (*QueueClient)(nil)

// startServer runs the real boundary handlers over the real service with an
// in-memory ledger, so the client is exercised end to end.
func startServer(t *testing.T) *QueueClient {
	t.Helper()

	svc := queue.NewService(queue.NewMemoryLedger(), broadcast.NoopPublisher{}, clockwork.NewFakeClock())

	mux := http.NewServeMux()
	httpapi.NewHandler(svc).RegisterRoutes(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return NewQueueClient(server.URL)
}

func TestClientQueueLifecycle(t *testing.T) {
	client := startServer(t)
	ctx := context.Background()

	q, err := client.CreateQueue(ctx, "clinic-1", "Morning walk-ins")
	require.NoError(t, err)
	assert.Equal(t, models.QueueStatusOpen, q.Status)

	alice, err := client.Join(ctx, q.ID, "Alice", "555-0100")
	require.NoError(t, err)
	assert.Equal(t, 1, alice.Token)

	bob, err := client.Join(ctx, q.ID, "Bob", "")
	require.NoError(t, err)
	assert.Equal(t, 2, bob.Token)

	state, err := client.FetchState(ctx, q.ID)
	require.NoError(t, err)
	require.Len(t, state.Waiting, 2)
	assert.Nil(t, state.Serving)

	served, err := client.CallNext(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, served.ID)

	state, err = client.FetchState(ctx, q.ID)
	require.NoError(t, err)
	require.Len(t, state.Waiting, 1)
	require.NotNil(t, state.Serving)
	assert.Equal(t, 1, state.Serving.Token)

	done, err := client.Complete(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ParticipantStatusCompleted, done.Status)
}

func TestClientSurfacesServerErrors(t *testing.T) {
	client := startServer(t)
	ctx := context.Background()

	q, err := client.CreateQueue(ctx, "clinic-1", "Morning")
	require.NoError(t, err)

	_, err = client.CallNext(ctx, q.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue is empty")

	_, err = client.FetchState(ctx, uuid.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestClientSessionFlow(t *testing.T) {
	client := startServer(t)
	ctx := context.Background()

	session, err := client.CreateSession(ctx, "Host", "Pop-up stall")
	require.NoError(t, err)
	require.Len(t, session.JoinCode, 6)

	guest, joined, err := client.JoinSession(ctx, session.JoinCode, "Guest", "")
	require.NoError(t, err)
	assert.Equal(t, session.ID, joined.ID)
	assert.Equal(t, 1, guest.Token)
}

func TestClientRetriesStorageUnavailable(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"success":false,"error":"storage unavailable"}`)
			return
		}
		fmt.Fprint(w, `{"success":true,"data":[],"current":null}`)
	}))
	t.Cleanup(server.Close)

	client := NewQueueClient(server.URL)
	client.retryBackoff = time.Millisecond

	state, err := client.FetchState(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Empty(t, state.Waiting)
	assert.Equal(t, 3, calls, "two 503s then success")
}

func TestClientGivesUpAfterBoundedRetries(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"success":false,"error":"storage unavailable"}`)
	}))
	t.Cleanup(server.Close)

	client := NewQueueClient(server.URL)
	client.retryBackoff = time.Millisecond

	_, err := client.FetchState(context.Background(), uuid.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Equal(t, 3, calls)
}

func TestClientFeedsReconciliationView(t *testing.T) {
	client := startServer(t)
	ctx := context.Background()

	q, err := client.CreateQueue(ctx, "clinic-1", "Morning")
	require.NoError(t, err)
	_, err = client.Join(ctx, q.ID, "Alice", "")
	require.NoError(t, err)
	me, err := client.Join(ctx, q.ID, "Bob", "")
	require.NoError(t, err)

	view := queueview.NewView(q.ID, queueview.Config{Fetcher: client})
	view.SetMyToken(me.Token)
	require.NoError(t, view.Refresh(ctx))

	assert.Equal(t, 1, view.PeopleAhead())
}
