package smtp

import (
	"bytes"
	"testing"

	"github.com/coregx/courier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	s, err := New(Config{Host: "smtp.acme.test"})
	require.NoError(t, err)
	assert.Equal(t, 587, s.cfg.Port)
	assert.Equal(t, TLSAuto, s.cfg.TLSMode)
	assert.Equal(t, "smtp", s.Name())

	ssl, err := New(Config{Host: "smtp.acme.test", Port: 465, TLSMode: TLSSSL})
	require.NoError(t, err)
	assert.True(t, ssl.dialer.SSL)

	_, err = New(Config{})
	assert.Error(t, err)
	_, err = New(Config{Host: "smtp.acme.test", TLSMode: "tls13"})
	assert.Error(t, err)
}

func TestBuildMessage(t *testing.T) {
	msg, id := buildMessage(courier.OutboundEmail{
		MessageID: "m-1",
		From:      "Acme <no-reply@acme.test>",
		To:        "user@example.com",
		ReplyTo:   "support@acme.test",
		Subject:   "Welcome",
		HTML:      "<p>Hi</p>",
		Text:      "Hi",
		Headers:   map[string]string{"List-Unsubscribe": "<https://acme.test/u?token=abc>"},
	})

	assert.Regexp(t, `^<[0-9a-f-]{36}@acme\.test>$`, id)

	var buf bytes.Buffer
	_, err := msg.WriteTo(&buf)
	require.NoError(t, err)
	raw := buf.String()

	assert.Contains(t, raw, "Message-ID: "+id)
	assert.Contains(t, raw, "Reply-To: support@acme.test")
	assert.Contains(t, raw, "X-Courier-Message-Id: m-1")
	assert.Contains(t, raw, "List-Unsubscribe: <https://acme.test/u?token=abc>")
	assert.Contains(t, raw, "multipart/alternative")
	assert.Contains(t, raw, "text/html")
}

func TestSenderDomain(t *testing.T) {
	assert.Equal(t, "acme.test", senderDomain("Acme <no-reply@acme.test>"))
	assert.Equal(t, "acme.test", senderDomain("no-reply@acme.test"))
	assert.Equal(t, "localhost", senderDomain("nobody"))
}
