package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIHistorySendsSinceAndToken(t *testing.T) {
	var gotQuery, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(map[string]any{"messages": []map[string]any{{"id": 6, "case_id": 4}}})
	}))
	defer srv.Close()

	msgs, err := NewAPI(srv.URL, "tok").History(context.Background(), 4, 5)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(6), msgs[0].ID)
	assert.Equal(t, "since_id=5", gotQuery)
	assert.Equal(t, "Bearer tok", gotAuth)
}

func TestAPIErrorDecoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"success":false,"error":"only lawyers can start a direct chat","code":"forbidden"}`))
	}))
	defer srv.Close()

	_, _, err := NewAPI(srv.URL, "tok").DirectChat(context.Background(), "c", "")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Equal(t, "forbidden", apiErr.Code)
}
