package proto

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
)

var (
	// ErrMalformed reports a frame that is not a valid envelope.
	ErrMalformed = errors.New("proto: malformed envelope")
	// ErrUnknownAction reports an action missing from the registry.
	ErrUnknownAction = errors.New("proto: unknown action")
	// ErrUnknownSignal reports a signal missing from the registry.
	ErrUnknownSignal = errors.New("proto: unknown signal")
	// ErrInvalidPayload reports params or data failing validation.
	ErrInvalidPayload = errors.New("proto: invalid payload")
)

// RequestID correlates an action with the signal answering it.
type RequestID string

func (id RequestID) String() string { return string(id) }

// Outbound is a decoded action envelope.
type Outbound struct {
	Action    string
	Params    Payload
	RequestID RequestID
}

// Inbound is a decoded and validated signal envelope. Data holds a pointer
// to the registered payload type for Signal.
type Inbound struct {
	Signal    string
	Data      Payload
	RequestID RequestID
	Raw       json.RawMessage
}

type actionFrame struct {
	Action    string          `json:"action"`
	Params    json.RawMessage `json:"params"`
	RequestID string          `json:"request_id,omitempty"`
}

type signalFrame struct {
	Signal    string          `json:"signal"`
	Data      json.RawMessage `json:"data"`
	RequestID string          `json:"request_id,omitempty"`
}

// EncodeAction renders an action envelope after checking the action is
// registered and the params block matches its registered type and validates.
// Nil params encode as an empty object.
func EncodeAction(action string, params Payload, requestID RequestID) ([]byte, error) {
	expected, ok := NewParams(action)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	if params == nil || reflect.ValueOf(params).IsNil() {
		params = expected
	}
	if reflect.TypeOf(params) != reflect.TypeOf(expected) {
		return nil, fmt.Errorf("%w: action %q expects %T, got %T", ErrInvalidPayload, action, expected, params)
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: action %q: %v", ErrInvalidPayload, action, err)
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode params for %q: %w", action, err)
	}
	return json.Marshal(actionFrame{Action: action, Params: raw, RequestID: string(requestID)})
}

// DecodeAction parses an action envelope into its typed params.
func DecodeAction(payload []byte) (Outbound, error) {
	var frame actionFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return Outbound{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if frame.Action == "" {
		return Outbound{}, fmt.Errorf("%w: missing action", ErrMalformed)
	}
	params, ok := NewParams(frame.Action)
	if !ok {
		return Outbound{}, fmt.Errorf("%w: %q", ErrUnknownAction, frame.Action)
	}
	if err := decodeObject(frame.Params, params); err != nil {
		return Outbound{}, fmt.Errorf("%w: action %q: %v", ErrInvalidPayload, frame.Action, err)
	}
	if err := params.Validate(); err != nil {
		return Outbound{}, fmt.Errorf("%w: action %q: %v", ErrInvalidPayload, frame.Action, err)
	}
	return Outbound{Action: frame.Action, Params: params, RequestID: RequestID(frame.RequestID)}, nil
}

// EncodeSignal renders a signal envelope. It is the server-side counterpart
// of DecodeInbound and is used by tooling and test servers.
func EncodeSignal(signal string, data Payload, requestID RequestID) ([]byte, error) {
	factory, ok := signals[signal]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSignal, signal)
	}
	if data == nil || reflect.ValueOf(data).IsNil() {
		data = factory()
	}
	if expected := factory(); reflect.TypeOf(data) != reflect.TypeOf(expected) {
		return nil, fmt.Errorf("%w: signal %q expects %T, got %T", ErrInvalidPayload, signal, expected, data)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode data for %q: %w", signal, err)
	}
	return json.Marshal(signalFrame{Signal: signal, Data: raw, RequestID: string(requestID)})
}

// DecodeInbound parses and validates a server frame. Any failure is wrapped in
// one of ErrMalformed, ErrUnknownSignal or ErrInvalidPayload.
func DecodeInbound(payload []byte) (Inbound, error) {
	var frame signalFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if frame.Signal == "" {
		return Inbound{}, fmt.Errorf("%w: missing signal", ErrMalformed)
	}
	factory, ok := signals[frame.Signal]
	if !ok {
		return Inbound{}, fmt.Errorf("%w: %q", ErrUnknownSignal, frame.Signal)
	}
	data := factory()
	if err := decodeObject(frame.Data, data); err != nil {
		return Inbound{}, fmt.Errorf("%w: signal %q: %v", ErrInvalidPayload, frame.Signal, err)
	}
	if err := data.Validate(); err != nil {
		return Inbound{}, fmt.Errorf("%w: signal %q: %v", ErrInvalidPayload, frame.Signal, err)
	}
	return Inbound{
		Signal:    frame.Signal,
		Data:      data,
		RequestID: RequestID(frame.RequestID),
		Raw:       frame.Data,
	}, nil
}

// decodeObject accepts an absent or null body as the zero payload and
// rejects anything that is not a JSON object.
func decodeObject(raw json.RawMessage, into Payload) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] != '{' {
		return errors.New("body must be a JSON object")
	}
	return json.Unmarshal(trimmed, into)
}

// ServerError is returned to callers whose request was answered by an error
// signal.
type ServerError struct {
	Code      string
	Message   string
	RequestID RequestID
}

func (e *ServerError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server error: %s", e.Message)
	}
	return fmt.Sprintf("server error %s: %s", e.Code, e.Message)
}

// AsServerError converts an error signal into a ServerError.
func AsServerError(msg Inbound) (*ServerError, bool) {
	if msg.Signal != SignalError {
		return nil, false
	}
	data, ok := msg.Data.(*ErrorData)
	if !ok || data == nil {
		return &ServerError{RequestID: msg.RequestID}, true
	}
	return &ServerError{Code: data.Code, Message: data.Message, RequestID: msg.RequestID}, true
}
