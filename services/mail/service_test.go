package mail

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tech-arch1tect/authkit/config"
)

func testMailConfig() *config.MailConfig {
	return &config.MailConfig{
		Enabled:     true,
		Host:        "127.0.0.1",
		Port:        1,
		Encryption:  "none",
		FromAddress: "security@example.com",
		FromName:    "Security",
		Timeout:     200 * time.Millisecond,
	}
}

func TestNewService(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		svc, err := NewService(testMailConfig(), nil)

		require.NoError(t, err)
		assert.NotNil(t, svc.client)
	})

	t.Run("missing from address", func(t *testing.T) {
		cfg := testMailConfig()
		cfg.FromAddress = ""

		_, err := NewService(cfg, nil)

		assert.Error(t, err)
	})

	t.Run("authenticated ssl", func(t *testing.T) {
		cfg := testMailConfig()
		cfg.Encryption = "ssl"
		cfg.Username = "relay"
		cfg.Password = "hunter22"

		_, err := NewService(cfg, nil)

		assert.NoError(t, err)
	})
}

func TestService_PlainMessage(t *testing.T) {
	svc, err := NewService(testMailConfig(), nil)
	require.NoError(t, err)

	msg, err := svc.plainMessage([]string{"alice@example.com"}, "Signed out", "body text")
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = msg.WriteTo(&buf)
	require.NoError(t, err)

	raw := buf.String()
	assert.Contains(t, raw, "Security")
	assert.Contains(t, raw, "<security@example.com>")
	assert.Contains(t, raw, "alice@example.com")
	assert.Contains(t, raw, "Subject: Signed out")
	assert.Contains(t, raw, "body text")

	_, err = svc.plainMessage([]string{"not an address"}, "x", "y")
	assert.Error(t, err)
}

func TestService_SendUnreachableRelay(t *testing.T) {
	svc, err := NewService(testMailConfig(), nil)
	require.NoError(t, err)

	err = svc.SendPlain(context.Background(), []string{"alice@example.com"}, "x", "y")

	assert.Error(t, err)
}

func TestProvideMailService_Disabled(t *testing.T) {
	svc, err := ProvideMailService(&config.Config{}, nil)

	require.NoError(t, err)
	assert.Nil(t, svc)
	assert.Nil(t, ProvideAlertSink(AlertParams{Config: &config.Config{}}))
}
