package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"

	"github.com/Xfuse1/whatsapp-crm/internal/app"
	"github.com/Xfuse1/whatsapp-crm/internal/apperr"
	"github.com/Xfuse1/whatsapp-crm/internal/config"
	"github.com/Xfuse1/whatsapp-crm/internal/profile"
)

type recorder struct {
	mu     sync.Mutex
	bodies map[string][]byte
}

func (r *recorder) body(path string) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bodies[path]
}

func newCLI(t *testing.T, routes map[string]string) (*CLI, *bytes.Buffer, *recorder) {
	t.Helper()
	t.Setenv(profile.HomeEnv, t.TempDir())
	t.Setenv("CRM_AUTH_TOKEN", "")

	rec := &recorder{bodies: map[string][]byte{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		rec.mu.Lock()
		rec.bodies[r.URL.Path] = b
		rec.mu.Unlock()
		resp, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(resp))
	}))
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.APIBaseURL = srv.URL + "/api"
	cfg.Notifications = false
	cfg.Retry.MaxAttempts = 1

	var client *app.Client
	fxApp := fxtest.New(t,
		app.Module(app.Params{Profile: "test", Config: cfg, Logger: zap.NewNop()}),
		fx.Populate(&client),
	)
	fxApp.RequireStart()
	t.Cleanup(fxApp.RequireStop)

	out := &bytes.Buffer{}
	return &CLI{Client: client, Out: out, In: strings.NewReader("")}, out, rec
}

func TestLoginWithPasswordStoresToken(t *testing.T) {
	cli, out, rec := newCLI(t, map[string]string{
		"/api/auth/login": `{"token":"tok-1","user":{"id":"u1","email":"ana@example.com","fullName":"Ana Souza","role":"agent"}}`,
	})
	cli.In = strings.NewReader("ana@example.com\nsecret\n")

	require.NoError(t, cli.Run(context.Background(), []string{"login"}))
	assert.Contains(t, out.String(), "Signed in as Ana Souza")
	assert.Equal(t, "tok-1", cli.Client.Creds.Token())

	var sent map[string]string
	require.NoError(t, json.Unmarshal(rec.body("/api/auth/login"), &sent))
	assert.Equal(t, "ana@example.com", sent["email"])
	assert.Equal(t, "secret", sent["password"])

	u, ok := cli.Client.Creds.User()
	require.True(t, ok)
	assert.Equal(t, "agent", u.Role)
}

func TestLoginWithTokenAndLogout(t *testing.T) {
	cli, out, _ := newCLI(t, nil)

	require.NoError(t, cli.Run(context.Background(), []string{"login", "tok-2", "--email", "bo@example.com", "--role", "admin"}))
	assert.Equal(t, "tok-2", cli.Client.Creds.Token())
	u, _ := cli.Client.Creds.User()
	assert.Equal(t, "bo@example.com", u.Email)
	assert.Contains(t, out.String(), "Token stored")

	require.NoError(t, cli.Run(context.Background(), []string{"logout"}))
	assert.False(t, cli.Client.Creds.IsAuthenticated())
}

func TestSendUsesOutbox(t *testing.T) {
	cli, out, rec := newCLI(t, map[string]string{
		"/api/whatsapp/send": `{"success":true,"data":{"messageId":"wamid.1","chatId":"c1"}}`,
	})

	require.NoError(t, cli.Run(context.Background(), []string{"send", "5511999", "hello", "there"}))
	assert.Equal(t, "Sent wamid.1\n", out.String())

	var sent map[string]string
	require.NoError(t, json.Unmarshal(rec.body("/api/whatsapp/send"), &sent))
	assert.Equal(t, "5511999", sent["to"])
	assert.Equal(t, "hello there", sent["message"])
	assert.NotEmpty(t, sent["tempId"])
}

func TestSendRejectedWhenUnlinked(t *testing.T) {
	cli, _, _ := newCLI(t, map[string]string{
		"/api/whatsapp/send": `{"success":false,"error":"WhatsApp not connected"}`,
	})
	err := cli.Run(context.Background(), []string{"send", "5511999", "hello"})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CodeUpstreamUnlinked))
}

func TestChatsTable(t *testing.T) {
	cli, out, _ := newCLI(t, map[string]string{
		"/api/whatsapp/chats": `{"chats":[
			{"id":"c1","title":"Ana","contactJid":"5511@s.whatsapp.net","unread_count":2,"last_message_at":"2026-03-01T10:00:00Z"},
			{"id":"c2","name":"Bruno","last_message_at":"2026-03-01T11:00:00Z"}]}`,
	})
	require.NoError(t, cli.Run(context.Background(), []string{"chats"}))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "UNREAD")
	assert.Contains(t, lines[1], "Bruno")
	assert.Contains(t, lines[2], "Ana")
}

func TestChatsJSONUsesCamelCase(t *testing.T) {
	cli, out, _ := newCLI(t, map[string]string{
		"/api/whatsapp/chats": `{"chats":[{"id":"c1","title":"Ana","contactJid":"5511@s.whatsapp.net","unread_count":2,"last_message_at":"2026-03-01T10:00:00Z"}]}`,
	})
	cli.JSON = true
	require.NoError(t, cli.Run(context.Background(), []string{"chats"}))

	var got []map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "c1", got[0]["id"])
	assert.Equal(t, "5511@s.whatsapp.net", got[0]["contactJid"])
	assert.EqualValues(t, 2, got[0]["unreadCount"])
	assert.Equal(t, "2026-03-01T10:00:00Z", got[0]["lastMessageAt"])
	assert.NotContains(t, got[0], "ContactAddress")
}

func TestStatusJSON(t *testing.T) {
	cli, out, _ := newCLI(t, map[string]string{
		"/api/whatsapp/status": `{"isConnected":true,"phoneNumber":"+5511","sessionId":"s1"}`,
	})
	cli.JSON = true
	require.NoError(t, cli.Run(context.Background(), []string{"status"}))

	var got map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, true, got["isConnected"])
	assert.Equal(t, "+5511", got["phoneNumber"])
}

func TestQRRendersCode(t *testing.T) {
	cli, out, _ := newCLI(t, map[string]string{
		"/api/whatsapp/qr": `{"qr":"2@abc,def,ghi"}`,
	})
	require.NoError(t, cli.Run(context.Background(), []string{"qr"}))
	assert.Contains(t, out.String(), "Linked devices")
	assert.True(t, strings.ContainsAny(out.String(), "█▀▄"))
}

func TestUsageErrors(t *testing.T) {
	cli, _, _ := newCLI(t, nil)
	for _, args := range [][]string{{"messages"}, {"send", "5511"}, {"contact"}, {"bogus"}} {
		err := cli.Run(context.Background(), args)
		require.Error(t, err, args)
		assert.True(t, apperr.Is(err, apperr.CodeInvalidInput), args)
	}
}
