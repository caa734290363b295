package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/queuepro/queuepro/internal/models"
	"github.com/queuepro/queuepro/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubService lets each test pin the engine's answer per operation.
type stubService struct {
	queue       *models.Queue
	participant *models.Participant
	state       *queue.State
	err         error
}

func (s *stubService) CreateQueue(ctx context.Context, ownerID, title string) (*models.Queue, error) {
	return s.queue, s.err
}

func (s *stubService) CreateSession(ctx context.Context, hostName, title string) (*models.Queue, error) {
	return s.queue, s.err
}

func (s *stubService) CloseQueue(ctx context.Context, queueID uuid.UUID) (*models.Queue, error) {
	return s.queue, s.err
}

func (s *stubService) Join(ctx context.Context, queueID uuid.UUID, name, phone string) (*models.Participant, error) {
	return s.participant, s.err
}

func (s *stubService) JoinByCode(ctx context.Context, code, name, phone string) (*models.Participant, *models.Queue, error) {
	if s.err != nil {
		return nil, nil, s.err
	}
	return s.participant, s.queue, nil
}

func (s *stubService) CallNext(ctx context.Context, queueID uuid.UUID) (*models.Participant, error) {
	return s.participant, s.err
}

func (s *stubService) Complete(ctx context.Context, participantID uuid.UUID) (*models.Participant, error) {
	return s.participant, s.err
}

func (s *stubService) Cancel(ctx context.Context, participantID uuid.UUID) (*models.Participant, error) {
	return s.participant, s.err
}

func (s *stubService) MarkMissed(ctx context.Context, participantID uuid.UUID) (*models.Participant, error) {
	return s.participant, s.err
}

func (s *stubService) GetState(ctx context.Context, queueID uuid.UUID) (*queue.State, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.state, nil
}

func serve(t *testing.T, svc QueueService, method, path string, body any) (*httptest.ResponseRecorder, response) {
	t.Helper()

	mux := http.NewServeMux()
	NewHandler(svc).RegisterRoutes(mux)

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	var resp response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return rec, resp
}

func TestJoinQueueReturnsTicket(t *testing.T) {
	svc := &stubService{participant: &models.Participant{
		ID:     uuid.New(),
		Token:  4,
		Name:   "Alice",
		Status: models.ParticipantStatusWaiting,
	}}

	rec, resp := serve(t, svc, http.MethodPost, "/api/queues/"+uuid.NewString()+"/add",
		map[string]string{"name": "Alice"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, resp.Success)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var p models.Participant
	require.NoError(t, json.Unmarshal(data, &p))
	assert.Equal(t, 4, p.Token)
}

func TestJoinQueueRequiresName(t *testing.T) {
	rec, resp := serve(t, &stubService{}, http.MethodPost, "/api/queues/"+uuid.NewString()+"/add",
		map[string]string{"phone": "555-0100"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, resp.Success)
	assert.Equal(t, "name is required", resp.Error)
}

func TestJoinQueueRejectsBadID(t *testing.T) {
	rec, resp := serve(t, &stubService{}, http.MethodPost, "/api/queues/not-a-uuid/add",
		map[string]string{"name": "Alice"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, resp.Success)
}

func TestGetQueueStateEnvelope(t *testing.T) {
	svc := &stubService{state: &queue.State{
		Queue:   &models.Queue{ID: uuid.New()},
		Waiting: []models.Participant{{Token: 2}, {Token: 3}},
		Serving: &models.Participant{Token: 1},
	}}

	rec, resp := serve(t, svc, http.MethodGet, "/api/queues/"+uuid.NewString(), nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	assert.NotNil(t, resp.Data)
	assert.NotNil(t, resp.Current)
}

func TestCallNextOnEmptyQueue(t *testing.T) {
	rec, resp := serve(t, &stubService{err: queue.ErrQueueEmpty},
		http.MethodPost, "/api/queues/"+uuid.NewString()+"/next", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, resp.Success)
	assert.Equal(t, "queue is empty", resp.Error)
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"queue not found", queue.ErrQueueNotFound, http.StatusNotFound},
		{"participant not found", queue.ErrParticipantNotFound, http.StatusNotFound},
		{"queue closed", queue.ErrQueueClosed, http.StatusConflict},
		{"not serving", queue.ErrNotServing, http.StatusConflict},
		{"not waiting", queue.ErrNotWaiting, http.StatusConflict},
		{"storage down", queue.ErrStorageUnavailable, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, resp := serve(t, &stubService{err: tt.err},
				http.MethodPost, "/api/participants/"+uuid.NewString()+"/complete", nil)

			assert.Equal(t, tt.want, rec.Code)
			assert.False(t, resp.Success)
		})
	}
}

func TestJoinSessionReturnsSession(t *testing.T) {
	sessionID := uuid.New()
	svc := &stubService{
		participant: &models.Participant{Token: 1, Name: "Guest"},
		queue:       &models.Queue{ID: sessionID, Flavor: models.QueueFlavorSession, JoinCode: "123456"},
	}

	rec, resp := serve(t, svc, http.MethodPost, "/api/sessions/join",
		map[string]string{"join_code": "123456", "name": "Guest"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	assert.NotNil(t, resp.Session)
}

func TestCreateSessionReturnsJoinCode(t *testing.T) {
	svc := &stubService{queue: &models.Queue{
		ID:       uuid.New(),
		Flavor:   models.QueueFlavorSession,
		JoinCode: "654321",
		Status:   models.QueueStatusOpen,
	}}

	rec, resp := serve(t, svc, http.MethodPost, "/api/sessions",
		map[string]string{"host_name": "Host", "title": "Pop-up"})

	assert.Equal(t, http.StatusCreated, rec.Code)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var q models.Queue
	require.NoError(t, json.Unmarshal(data, &q))
	assert.Equal(t, "654321", q.JoinCode)
}
