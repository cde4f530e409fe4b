package event

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validUserID = "U0123456789abcdef0123456789abcdef"

func TestDecodeDispatchesTypedPayloads(t *testing.T) {
	c := NewCodec(0)

	frame, err := c.Decode([]byte(`{"type":"join_room","payload":{"user_id":"` + validUserID + `"},"timestamp":"2026-01-01T00:00:00Z"}`))
	require.NoError(t, err)
	assert.Equal(t, TypeJoinRoom, frame.Type)
	join, ok := frame.Payload.(*JoinRoomPayload)
	require.True(t, ok)
	assert.Equal(t, validUserID, join.UserID)

	frame, err = c.Decode([]byte(`{"type":"ping","payload":null}`))
	require.NoError(t, err)
	assert.IsType(t, &EmptyPayload{}, frame.Payload)

	frame, err = c.Decode([]byte(`{"type":"transfer_session","payload":{"to_operator_id":" 42 ","reason":"shift end"}}`))
	require.NoError(t, err)
	transfer := frame.Payload.(*TransferSessionPayload)
	assert.Equal(t, "42", transfer.ToOperatorID)
}

func TestDecodeErrors(t *testing.T) {
	c := NewCodec(10)

	tests := []struct {
		name string
		raw  string
		code Code
	}{
		{"malformed json", `{"type":`, CodeValidation},
		{"missing type", `{"payload":{}}`, CodeValidation},
		{"unknown type", `{"type":"dance"}`, CodeUnknownEvent},
		{"bad user id", `{"type":"join_room","payload":{"user_id":"U123"}}`, CodeValidation},
		{"missing user id", `{"type":"join_room","payload":{}}`, CodeValidation},
		{"empty text after stripping", `{"type":"send_message","payload":{"text":"<b> </b>"}}`, CodeValidation},
		{"text too long", `{"type":"send_message","payload":{"text":"abcdefghijk"}}`, CodeMessageTooLong},
		{"temp id too long", `{"type":"send_message","payload":{"text":"hi","temp_id":"` + strings.Repeat("x", 101) + `"}}`, CodeValidation},
		{"short token", `{"type":"auth","payload":{"token":"short"}}`, CodeValidation},
		{"transfer without target", `{"type":"transfer_session","payload":{}}`, CodeValidation},
		{"payload wrong shape", `{"type":"send_message","payload":"hi"}`, CodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Decode([]byte(tt.raw))
			require.Error(t, err)
			assert.Equal(t, tt.code, CodeOf(err))
		})
	}
}

func TestSanitizeText(t *testing.T) {
	c := NewCodec(0)
	assert.Equal(t, "hello world", c.SanitizeText("  <script>x</script>hello   <b>world</b>\n"))
	assert.Equal(t, "fish & chips", c.SanitizeText("fish &amp; chips"))

	frame, err := c.Decode([]byte(`{"type":"send_message","payload":{"text":"<i>hi</i>  there","temp_id":"t1"}}`))
	require.NoError(t, err)
	msg := frame.Payload.(*SendMessagePayload)
	assert.Equal(t, "hi there", msg.Text)
	assert.Equal(t, "t1", msg.TempID)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	env := Must(TypePong, PongPayload{ServerTime: FormatTime(at)}, at)

	data, err := env.Encode()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "pong", decoded["type"])
	assert.Equal(t, "2026-03-04T05:06:07Z", decoded["timestamp"])
	assert.Equal(t, map[string]any{"server_time": "2026-03-04T05:06:07Z"}, decoded["payload"])

	nullEnv := Must(TypeLeaveRoom, nil, at)
	data, err = nullEnv.Encode()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"payload":null`)
}

func TestRoomID(t *testing.T) {
	room := RoomID(validUserID)
	assert.Equal(t, "conversation:"+validUserID, room)

	id, ok := UserIDFromRoom(room)
	assert.True(t, ok)
	assert.Equal(t, validUserID, id)

	_, ok = UserIDFromRoom("room:x")
	assert.False(t, ok)
	_, ok = UserIDFromRoom("conversation:")
	assert.False(t, ok)
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeNotInRoom, CodeOf(NewFrameError(CodeNotInRoom, "join first", nil)))
	assert.Equal(t, CodeInternal, CodeOf(assert.AnError))
}
