package socket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePacket(t *testing.T) {
	p, err := decodePacket([]byte(`42["message:incoming",{"chatId":"c1"}]`))
	require.NoError(t, err)
	assert.Equal(t, eioMessage, p.Type)
	assert.Equal(t, `2["message:incoming",{"chatId":"c1"}]`, string(p.Data))

	_, err = decodePacket(nil)
	assert.ErrorIs(t, err, errEmptyPacket)
	_, err = decodePacket([]byte("9x"))
	assert.Error(t, err)
}

func TestPayloadRoundTrip(t *testing.T) {
	packets := []Packet{
		{Type: eioMessage, Data: []byte(`2["a"]`)},
		{Type: eioPing},
		{Type: eioMessage, Data: []byte(`2["b",1]`)},
	}
	raw := encodePayload(packets)
	assert.Equal(t, "42[\"a\"]\x1e2\x1e42[\"b\",1]", string(raw))

	got, err := decodePayload(raw)
	require.NoError(t, err)
	assert.Equal(t, packets[0], got[0])
	assert.Equal(t, eioPing, got[1].Type)
	assert.Empty(t, got[1].Data)
	assert.Equal(t, packets[2], got[2])
}

func TestParseHandshake(t *testing.T) {
	h, err := parseHandshake(Packet{Type: eioOpen, Data: []byte(`{"sid":"abc","upgrades":["websocket"],"pingInterval":25000,"pingTimeout":20000,"maxPayload":1000000}`)})
	require.NoError(t, err)
	assert.Equal(t, "abc", h.SID)
	assert.Equal(t, []string{"websocket"}, h.Upgrades)
	assert.Equal(t, 45*time.Second, h.ReadTimeout())

	_, err = parseHandshake(Packet{Type: eioMessage, Data: []byte(`{}`)})
	assert.Error(t, err)
	_, err = parseHandshake(Packet{Type: eioOpen, Data: []byte(`{"pingInterval":1}`)})
	assert.Error(t, err)
}

func TestDecodeSocketPacket(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		typ     byte
		ns      string
		payload string
	}{
		{"connect ack", `0{"sid":"x"}`, sioConnect, "/", `{"sid":"x"}`},
		{"event", `2["auth:success",{"userId":"u1"}]`, sioEvent, "/", `["auth:success",{"userId":"u1"}]`},
		{"event with ack id", `213["ping"]`, sioEvent, "/", `["ping"]`},
		{"namespaced", `2/admin,["x"]`, sioEvent, "/admin", `["x"]`},
		{"binary count", `51-["up",{}]`, '5', "/", `["up",{}]`},
		{"disconnect", `1`, sioDisconnect, "/", ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sp, err := decodeSocketPacket([]byte(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.typ, sp.Type)
			assert.Equal(t, tt.ns, sp.Namespace)
			assert.Equal(t, tt.payload, string(sp.Payload))
		})
	}
}

func TestParseEvent(t *testing.T) {
	ev, err := parseEvent([]byte(`["message:status",{"messageId":"m1","status":"read"}]`))
	require.NoError(t, err)
	assert.Equal(t, "message:status", ev.Name)
	assert.Equal(t, "read", ev.Data().Get("status").String())

	_, err = parseEvent([]byte(`{"not":"array"}`))
	assert.Error(t, err)
	_, err = parseEvent([]byte(`[42]`))
	assert.Error(t, err)
}

func TestEncodeEvent(t *testing.T) {
	b, err := encodeEvent("auth", map[string]string{"token": "t"})
	require.NoError(t, err)
	assert.Equal(t, `2["auth",{"token":"t"}]`, string(b))

	b, err = encodeEvent("ping", nil)
	require.NoError(t, err)
	assert.Equal(t, `2["ping"]`, string(b))
}

func TestOrigin(t *testing.T) {
	assert.Equal(t, "https://crm.example.com", Origin("https://crm.example.com/api"))
	assert.Equal(t, "https://crm.example.com", Origin("https://crm.example.com/api/"))
	assert.Equal(t, "http://localhost:4000", Origin("http://localhost:4000"))
}

func TestEndpoint(t *testing.T) {
	u, err := endpoint("https://crm.example.com", TransportWebsocket)
	require.NoError(t, err)
	assert.Equal(t, "wss://crm.example.com/socket.io/?EIO=4&transport=websocket", u.String())

	u, err = endpoint("http://localhost:4000/", TransportPolling)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:4000/socket.io/?EIO=4&transport=polling", u.String())
}
