package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"github.com/tinywideclouds/go-push-router/internal/api"
	"github.com/tinywideclouds/go-push-router/pkg/dispatch"
)

// --- Mocks ---
type MockEndpointStore struct {
	mock.Mock
}

func (m *MockEndpointStore) Register(ctx context.Context, u urn.URN, ep dispatch.Endpoint) error {
	return m.Called(ctx, u, ep).Error(0)
}
func (m *MockEndpointStore) Unregister(ctx context.Context, u urn.URN, ep dispatch.Endpoint) error {
	return m.Called(ctx, u, ep).Error(0)
}
func (m *MockEndpointStore) Fetch(ctx context.Context, u urn.URN) ([]dispatch.Endpoint, error) {
	args := m.Called(ctx, u)
	return args.Get(0).([]dispatch.Endpoint), args.Error(1)
}

// --- Setup ---
func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupAPI(t *testing.T) (*api.EndpointAPI, *MockEndpointStore) {
	t.Helper()
	mockStore := new(MockEndpointStore)
	validators := map[string]api.EndpointValidator{
		"fcm": nil,
		"web": func(id string) error {
			if !json.Valid([]byte(id)) {
				return errors.New("not a subscription")
			}
			return nil
		},
	}
	return api.NewEndpointAPI(mockStore, validators, newTestLogger()), mockStore
}

// withUser injects the user id the auth middleware would set.
func withUser(req *http.Request, userID string) *http.Request {
	ctx := middleware.ContextWithUserID(req.Context(), userID)
	return req.WithContext(ctx)
}

func jsonBody(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(body)
}

// --- Tests ---

func TestRegister(t *testing.T) {
	targetURN, err := urn.Parse("urn:test:user:123")
	require.NoError(t, err)

	t.Run("Success", func(t *testing.T) {
		apiHandler, mockStore := setupAPI(t)
		payload := api.EndpointRequest{Platform: "fcm", PayloadType: "alert", ID: "fcm-token-abc"}
		req := withUser(httptest.NewRequest("POST", "/api/v1/endpoints", jsonBody(t, payload)), targetURN.String())
		w := httptest.NewRecorder()

		mockStore.On("Register", mock.Anything, targetURN,
			dispatch.Endpoint{ID: "fcm-token-abc", Platform: "fcm", PayloadType: "alert"}).Return(nil)

		apiHandler.Register(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		mockStore.AssertExpectations(t)
	})

	testCases := []struct {
		name     string
		body     any
		withUser bool
		wantCode int
	}{
		{name: "Rejects missing user", body: api.EndpointRequest{Platform: "fcm", PayloadType: "alert", ID: "t"}, wantCode: http.StatusUnauthorized},
		{name: "Rejects empty id", body: api.EndpointRequest{Platform: "fcm", PayloadType: "alert"}, withUser: true, wantCode: http.StatusBadRequest},
		{name: "Rejects missing payload type", body: api.EndpointRequest{Platform: "fcm", ID: "t"}, withUser: true, wantCode: http.StatusBadRequest},
		{name: "Rejects unknown platform", body: api.EndpointRequest{Platform: "pager", PayloadType: "alert", ID: "t"}, withUser: true, wantCode: http.StatusBadRequest},
		{name: "Rejects invalid web subscription", body: api.EndpointRequest{Platform: "web", PayloadType: "alert", ID: "{broken"}, withUser: true, wantCode: http.StatusBadRequest},
		{name: "Rejects malformed json", body: "not-an-object", withUser: true, wantCode: http.StatusBadRequest},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			apiHandler, mockStore := setupAPI(t)
			req := httptest.NewRequest("POST", "/api/v1/endpoints", jsonBody(t, tc.body))
			if tc.withUser {
				req = withUser(req, targetURN.String())
			}
			w := httptest.NewRecorder()

			apiHandler.Register(w, req)

			assert.Equal(t, tc.wantCode, w.Code)
			mockStore.AssertNotCalled(t, "Register", mock.Anything, mock.Anything, mock.Anything)
		})
	}

	t.Run("Storage failure", func(t *testing.T) {
		apiHandler, mockStore := setupAPI(t)
		payload := api.EndpointRequest{Platform: "web", PayloadType: "alert", ID: `{"endpoint":"https://push.example/1"}`}
		req := withUser(httptest.NewRequest("POST", "/api/v1/endpoints", jsonBody(t, payload)), targetURN.String())
		w := httptest.NewRecorder()

		mockStore.On("Register", mock.Anything, targetURN, mock.Anything).Return(errors.New("db down"))

		apiHandler.Register(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestUnregister(t *testing.T) {
	targetURN, err := urn.Parse("urn:test:user:123")
	require.NoError(t, err)

	t.Run("Success without payload type", func(t *testing.T) {
		apiHandler, mockStore := setupAPI(t)
		payload := api.EndpointRequest{Platform: "fcm", ID: "fcm-token-abc"}
		req := withUser(httptest.NewRequest("POST", "/api/v1/endpoints/unregister", jsonBody(t, payload)), targetURN.String())
		w := httptest.NewRecorder()

		mockStore.On("Unregister", mock.Anything, targetURN,
			dispatch.Endpoint{ID: "fcm-token-abc", Platform: "fcm"}).Return(nil)

		apiHandler.Unregister(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		mockStore.AssertExpectations(t)
	})

	t.Run("Rejects missing id", func(t *testing.T) {
		apiHandler, _ := setupAPI(t)
		req := withUser(httptest.NewRequest("POST", "/api/v1/endpoints/unregister",
			jsonBody(t, api.EndpointRequest{Platform: "fcm"})), targetURN.String())
		w := httptest.NewRecorder()

		apiHandler.Unregister(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Storage failure", func(t *testing.T) {
		apiHandler, mockStore := setupAPI(t)
		req := withUser(httptest.NewRequest("POST", "/api/v1/endpoints/unregister",
			jsonBody(t, api.EndpointRequest{Platform: "fcm", ID: "x"})), targetURN.String())
		w := httptest.NewRecorder()

		mockStore.On("Unregister", mock.Anything, targetURN, mock.Anything).Return(errors.New("db down"))

		apiHandler.Unregister(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}
