package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/imtaco/audio-rooms/internal/jsonrpc"
	"github.com/imtaco/audio-rooms/media"
)

func bind(t *testing.T, raw string, v any) error {
	t.Helper()
	msg := json.RawMessage(raw)
	return jsonrpc.ShouldBindParams(&msg, v)
}

func TestProduceParamsValidation(t *testing.T) {
	var p ProduceParams
	assert.NoError(t, bind(t, `{"transportId":"t1","kind":"audio",
		"mediaParameters":{"codecs":[{"mimeType":"audio/opus","clockRate":48000,"channels":2}],"ssrc":1}}`, &p))
	assert.Equal(t, media.KindAudio, p.Kind)

	assert.Error(t, bind(t, `{"transportId":"t1","kind":"video",
		"mediaParameters":{"codecs":[{"mimeType":"video/VP8","clockRate":90000}]}}`, &ProduceParams{}))
	assert.Error(t, bind(t, `{"transportId":"t1","kind":"audio","mediaParameters":{"codecs":[]}}`, &ProduceParams{}))
	assert.Error(t, bind(t, `{"kind":"audio"}`, &ProduceParams{}))
}

func TestConnectParamsValidation(t *testing.T) {
	ok := `{"transportId":"t1","remoteParams":{
		"iceParameters":{"usernameFragment":"u","password":"p"},
		"iceCandidates":[{"address":"1.2.3.4","protocol":"udp","port":5000}],
		"dtlsParameters":{"role":"client","fingerprints":[{"algorithm":"sha-256","value":"AA"}]}}}`
	assert.NoError(t, bind(t, ok, &ConnectTransportParams{}))

	noFingerprint := `{"transportId":"t1","remoteParams":{
		"iceParameters":{"usernameFragment":"u","password":"p"},
		"dtlsParameters":{"fingerprints":[]}}}`
	assert.Error(t, bind(t, noFingerprint, &ConnectTransportParams{}))
}

func TestJoinRoomParamsValidation(t *testing.T) {
	assert.NoError(t, bind(t, `{"userId":"alice","username":"Alice","roomId":"r1"}`, &JoinRoomParams{}))
	assert.NoError(t, bind(t, `{}`, &JoinRoomParams{}))
	assert.Error(t, bind(t, `{"roomId":"r 1"}`, &JoinRoomParams{}))
}
