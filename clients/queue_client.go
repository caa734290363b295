// Package clients holds the Go client for the boundary API. Device-side code
// (kiosk displays, operator consoles) drives the server through it, and it
// doubles as the snapshot fetcher the reconciliation engine refreshes from.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/queuepro/queuepro/internal/models"
	"github.com/queuepro/queuepro/internal/queue"
)

// QueueClient talks to one queue server.
type QueueClient struct {
	baseURL string
	client  *http.Client
	headers map[string]string

	maxRetries   int
	retryBackoff time.Duration
}

// NewQueueClient creates a client against the given server base URL.
func NewQueueClient(baseURL string) *QueueClient {
	return &QueueClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		headers:      make(map[string]string),
		maxRetries:   2,
		retryBackoff: 250 * time.Millisecond,
	}
}

func (c *QueueClient) SetHeader(key, value string) {
	c.headers[key] = value
}

func (c *QueueClient) SetTimeout(timeout time.Duration) {
	c.client.Timeout = timeout
}

// apiResponse mirrors the server's response envelope.
type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Current json.RawMessage `json:"current"`
	Session json.RawMessage `json:"session"`
	Error   string          `json:"error"`
}

// doRequest issues one API call. A 503 means the server hit its storage
// before committing anything, so the call is retried with bounded backoff;
// every other failure is returned as-is.
func (c *QueueClient) doRequest(ctx context.Context, method, endpoint string, body any) (*apiResponse, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryBackoff):
			}
		}

		envelope, status, err := c.attempt(ctx, method, endpoint, payload)
		if err != nil {
			return nil, err
		}
		if status == http.StatusServiceUnavailable {
			lastErr = fmt.Errorf("server returned status %d: %s", status, envelope.Error)
			continue
		}
		if status < 200 || status >= 300 {
			return nil, fmt.Errorf("server returned status %d: %s", status, envelope.Error)
		}
		return envelope, nil
	}
	return nil, lastErr
}

func (c *QueueClient) attempt(ctx context.Context, method, endpoint string, payload []byte) (*apiResponse, int, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	var envelope apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, 0, fmt.Errorf("failed to decode response: %w", err)
	}
	return &envelope, resp.StatusCode, nil
}

// CreateQueue opens a clinic queue.
func (c *QueueClient) CreateQueue(ctx context.Context, ownerID, title string) (*models.Queue, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/api/queues", map[string]string{
		"owner_id": ownerID,
		"title":    title,
	})
	if err != nil {
		return nil, err
	}
	return decodeQueue(resp.Data)
}

// CreateSession opens an ad-hoc session queue and returns it with its join code.
func (c *QueueClient) CreateSession(ctx context.Context, hostName, title string) (*models.Queue, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/api/sessions", map[string]string{
		"host_name": hostName,
		"title":     title,
	})
	if err != nil {
		return nil, err
	}
	return decodeQueue(resp.Data)
}

// CloseQueue stops a queue from accepting joins.
func (c *QueueClient) CloseQueue(ctx context.Context, queueID uuid.UUID) (*models.Queue, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/api/queues/"+queueID.String()+"/close", nil)
	if err != nil {
		return nil, err
	}
	return decodeQueue(resp.Data)
}

// FetchState returns the authoritative snapshot for a queue. It satisfies the
// reconciliation engine's fetcher contract.
func (c *QueueClient) FetchState(ctx context.Context, queueID uuid.UUID) (*queue.State, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/queues/"+queueID.String(), nil)
	if err != nil {
		return nil, err
	}

	state := &queue.State{Waiting: []models.Participant{}}
	if present(resp.Data) {
		if err := json.Unmarshal(resp.Data, &state.Waiting); err != nil {
			return nil, fmt.Errorf("failed to decode waiting list: %w", err)
		}
	}
	if present(resp.Current) {
		var serving models.Participant
		if err := json.Unmarshal(resp.Current, &serving); err != nil {
			return nil, fmt.Errorf("failed to decode serving participant: %w", err)
		}
		state.Serving = &serving
	}
	return state, nil
}

// Join adds a participant to a queue and returns the issued ticket.
func (c *QueueClient) Join(ctx context.Context, queueID uuid.UUID, name, phone string) (*models.Participant, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/api/queues/"+queueID.String()+"/add", map[string]string{
		"name":  name,
		"phone": phone,
	})
	if err != nil {
		return nil, err
	}
	return decodeParticipant(resp.Data)
}

// JoinSession joins a session by its share code.
func (c *QueueClient) JoinSession(ctx context.Context, code, name, phone string) (*models.Participant, *models.Queue, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/api/sessions/join", map[string]string{
		"join_code": code,
		"name":      name,
		"phone":     phone,
	})
	if err != nil {
		return nil, nil, err
	}

	p, err := decodeParticipant(resp.Data)
	if err != nil {
		return nil, nil, err
	}
	q, err := decodeQueue(resp.Session)
	if err != nil {
		return nil, nil, err
	}
	return p, q, nil
}

// CallNext claims the next waiting participant.
func (c *QueueClient) CallNext(ctx context.Context, queueID uuid.UUID) (*models.Participant, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/api/queues/"+queueID.String()+"/next", nil)
	if err != nil {
		return nil, err
	}
	return decodeParticipant(resp.Data)
}

// Complete finishes the serving participant.
func (c *QueueClient) Complete(ctx context.Context, participantID uuid.UUID) (*models.Participant, error) {
	return c.participantOp(ctx, participantID, "complete")
}

// Cancel removes a waiting participant from the line.
func (c *QueueClient) Cancel(ctx context.Context, participantID uuid.UUID) (*models.Participant, error) {
	return c.participantOp(ctx, participantID, "cancel")
}

// MarkMissed flags a waiting participant as a no-show.
func (c *QueueClient) MarkMissed(ctx context.Context, participantID uuid.UUID) (*models.Participant, error) {
	return c.participantOp(ctx, participantID, "missed")
}

func (c *QueueClient) participantOp(ctx context.Context, participantID uuid.UUID, op string) (*models.Participant, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/api/participants/"+participantID.String()+"/"+op, nil)
	if err != nil {
		return nil, err
	}
	return decodeParticipant(resp.Data)
}

func decodeQueue(data json.RawMessage) (*models.Queue, error) {
	var q models.Queue
	if err := json.Unmarshal(data, &q); err != nil {
		return nil, fmt.Errorf("failed to decode queue: %w", err)
	}
	return &q, nil
}

func decodeParticipant(data json.RawMessage) (*models.Participant, error) {
	var p models.Participant
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode participant: %w", err)
	}
	return &p, nil
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}
