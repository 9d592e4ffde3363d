package webhookadapter

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/mmk-ui-api/internal/ports"
)

func TestAdapter_Deliver_Success(t *testing.T) {
	var gotSignature string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get("X-Webhook-Signature")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	adapter := New(Config{})
	result, err := adapter.Deliver(t.Context(), ports.ChannelConfig{WebhookURL: srv.URL, WebhookSecret: "s3cret"}, ports.AlertData{
		AlertID: "alert-1", Title: "Price dropped",
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.NotEmpty(t, result.MessageID)

	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write(gotBody)
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), gotSignature)
}

func TestAdapter_Deliver_NoSecretNoSignature(t *testing.T) {
	var gotSignature string
	hadHeader := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature, hadHeader = r.Header.Get("X-Webhook-Signature"), true
		w.WriteHeader(http.StatusOK)
		_ = gotSignature
	}))
	defer srv.Close()

	adapter := New(Config{})
	_, err := adapter.Deliver(t.Context(), ports.ChannelConfig{WebhookURL: srv.URL}, ports.AlertData{AlertID: "a1"})
	require.NoError(t, err)
	assert.True(t, hadHeader)
	assert.Empty(t, gotSignature)
}

func TestAdapter_Deliver_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	adapter := New(Config{})
	result, err := adapter.Deliver(t.Context(), ports.ChannelConfig{WebhookURL: srv.URL}, ports.AlertData{AlertID: "a1"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "boom")
}

func TestAdapter_Deliver_MissingURL(t *testing.T) {
	adapter := New(Config{})
	result, err := adapter.Deliver(t.Context(), ports.ChannelConfig{}, ports.AlertData{})
	require.NoError(t, err)
	assert.False(t, result.Success)
}

func TestAdapter_Channel(t *testing.T) {
	assert.Equal(t, "webhook", New(Config{}).Channel())
}
