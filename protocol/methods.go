// Package protocol is the wire contract between the relay and its peers:
// method names, parameter and result shapes, and error codes.
package protocol

// Requests, answered with a result or an error.
const (
	MethodGetRouterRtpCapabilities = "getRouterRtpCapabilities"
	MethodCreateWebRtcTransport    = "createWebRtcTransport"
	MethodConnectWebRtcTransport   = "connectWebRtcTransport"
	MethodProduce                  = "produce"
	MethodConsume                  = "consume"
	MethodResumeConsumer           = "resumeConsumer"
	MethodStopRecording            = "stopRecording"
	MethodCloseProducer            = "closeProducer"
)

// Notifications sent by peers.
const (
	NotifyJoinRoom = "joinRoom"
	NotifySpeaking = "speaking"
)

// Pushes sent by the relay.
const (
	PushUsers            = "users"
	PushUserJoined       = "userJoined"
	PushUserSpeaking     = "userSpeaking"
	PushNewProducer      = "newProducer"
	PushPeerDisconnected = "peerDisconnected"
	PushUserLeft         = "userLeft"
	PushConsumerClosed   = "consumerClosed"
)

// Handshake query parameters of the websocket endpoint.
const (
	QueryRoomID   = "roomId"
	QueryPeerID   = "peerId"
	QueryUsername = "username"
	QueryToken    = "token"
)
