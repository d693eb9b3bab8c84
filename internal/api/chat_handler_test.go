package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucidspace/atelier-api/internal/service"
)

func chatTestRouter(svc *MockChatService) *chi.Mux {
	handler := NewChatHandler(svc)
	r := chi.NewRouter()
	r.Post("/api/sessions/{id}/messages", handler.SubmitMessage)
	return r
}

func TestChatHandler_SubmitMessage(t *testing.T) {
	sessionID := uuid.New()
	jobID := uuid.New()

	tests := []struct {
		name           string
		requestBody    interface{}
		setupMock      func(*MockChatService)
		expectedStatus int
	}{
		{
			name:        "successful_submission",
			requestBody: SubmitMessageRequest{Message: "make the bedroom softer"},
			setupMock: func(ms *MockChatService) {
				ms.SubmitMessageFn = func(ctx context.Context, sid uuid.UUID, message string) (uuid.UUID, error) {
					return jobID, nil
				}
			},
			expectedStatus: http.StatusAccepted,
		},
		{
			name:           "empty_message",
			requestBody:    SubmitMessageRequest{},
			setupMock:      func(ms *MockChatService) {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:        "unknown_session",
			requestBody: SubmitMessageRequest{Message: "hello"},
			setupMock: func(ms *MockChatService) {
				ms.SubmitMessageFn = func(ctx context.Context, sid uuid.UUID, message string) (uuid.UUID, error) {
					return uuid.Nil, service.ErrSessionNotFound
				}
			},
			expectedStatus: http.StatusNotFound,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := &MockChatService{}
			tc.setupMock(svc)
			router := chatTestRouter(svc)

			body, err := json.Marshal(tc.requestBody)
			require.NoError(t, err)

			req := httptest.NewRequest(
				http.MethodPost,
				"/api/sessions/"+sessionID.String()+"/messages",
				bytes.NewReader(body),
			)
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			assert.Equal(t, tc.expectedStatus, rr.Code)

			if tc.expectedStatus == http.StatusAccepted {
				var resp SubmitMessageResponse
				require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
				assert.Equal(t, jobID.String(), resp.JobID)
			}
		})
	}
}
