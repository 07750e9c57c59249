package protocol

import "errors"

// Core protocol errors
var (
	ErrInvalidMessage        = errors.New("invalid message")
	ErrUnknownMessageType    = errors.New("unknown message type")
	ErrMessageTooLarge       = errors.New("message too large")
	ErrSerializationFailed   = errors.New("message serialization failed")
	ErrDeserializationFailed = errors.New("message deserialization failed")

	ErrInvalidFrame = errors.New("invalid pose frame")
	ErrUnauthorized = errors.New("unauthorized")
)
