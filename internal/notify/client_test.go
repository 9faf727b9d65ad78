package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNotifyClient_Send(t *testing.T) {
	var got Notification
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/internal/notifications", r.URL.Path)
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := NewNotifyClient(srv.URL, "s3cret")
	err := client.Send(context.Background(), Notification{
		UserID:  7,
		Kind:    KindTaskFailed,
		URN:     "tmp:abc",
		Subject: "Upload failed",
		Message: "boom",
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer s3cret", auth)
	assert.Equal(t, uint64(7), got.UserID)
	assert.Equal(t, KindTaskFailed, got.Kind)
	assert.Equal(t, "tmp:abc", got.URN)
}

func TestNotifyClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewNotifyClient(srv.URL, "").Send(context.Background(), Notification{UserID: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=502")
}

func TestNew_FallsBackToLog(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	n := New("", "", zap.New(core))

	_, ok := n.(*LogNotifier)
	require.True(t, ok)
	require.NoError(t, n.Send(context.Background(), Notification{UserID: 3, Kind: KindPublished}))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "notification", logs.All()[0].Message)

	_, ok = New("http://localhost", "", zap.NewNop()).(*NotifyClient)
	assert.True(t, ok)
}
