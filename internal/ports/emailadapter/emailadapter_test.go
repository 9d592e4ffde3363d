package emailadapter

import (
	"errors"
	"net/smtp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/mmk-ui-api/internal/ports"
)

func TestAdapter_Deliver_Success(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	adapter := New(Config{SMTPHost: "smtp.example.com", SMTPPort: 587, From: "alerts@example.com"})
	adapter.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	result, err := adapter.Deliver(t.Context(), ports.ChannelConfig{EmailTo: "oncall@example.com"}, ports.AlertData{
		Title: "Price dropped", Body: "details here", Severity: "warning",
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.NotEmpty(t, result.MessageID)
	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, "alerts@example.com", gotFrom)
	assert.Equal(t, []string{"oncall@example.com"}, gotTo)
	assert.Contains(t, string(gotMsg), "Price dropped")
	assert.Contains(t, string(gotMsg), "WARNING")
}

func TestAdapter_Deliver_MissingTo(t *testing.T) {
	adapter := New(Config{SMTPHost: "smtp.example.com", SMTPPort: 587})
	result, err := adapter.Deliver(t.Context(), ports.ChannelConfig{}, ports.AlertData{})
	require.NoError(t, err)
	assert.False(t, result.Success)
}

func TestAdapter_Deliver_SendError(t *testing.T) {
	adapter := New(Config{SMTPHost: "smtp.example.com", SMTPPort: 587})
	adapter.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		return errors.New("connection refused")
	}
	result, err := adapter.Deliver(t.Context(), ports.ChannelConfig{EmailTo: "oncall@example.com"}, ports.AlertData{Title: "t"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "connection refused")
}

func TestAdapter_Channel(t *testing.T) {
	assert.Equal(t, "email", New(Config{}).Channel())
}
