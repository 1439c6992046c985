package workerengine

import "encoding/json"

// MessageType tags a Message's purpose, the direct analogue of the
// browser worker's postMessage discriminator.
type MessageType string

// Outbound request types — calls into the worker.
const (
	TypeInit             MessageType = "INIT"
	TypeEnable           MessageType = "ENABLE"
	TypeDisable          MessageType = "DISABLE"
	TypeSyncItem         MessageType = "SYNC_ITEM"
	TypeDeleteItem       MessageType = "DELETE_ITEM"
	TypeLoadData         MessageType = "LOAD_DATA"
	TypeForceLoadData    MessageType = "FORCE_LOAD_DATA"
	TypeClearPreferences MessageType = "CLEAR_PREFERENCES"
	TypeSetPreference    MessageType = "SET_PREFERENCE"
	TypeGetPreferences   MessageType = "GET_PREFERENCES"
	TypeGetStoreData     MessageType = "GET_STORE_DATA"
	TypeGetStatus        MessageType = "GET_STATUS"
)

// Inbound event/response types — calls out of the worker. Each of these is
// actually constructed and delivered: TypeResponse/TypeError close out a
// request's reply on its own respCh, while TypeStatus/TypeRemoteChange/
// TypeActivity are the asynchronous, no-reply events sent on Worker.events
// and fanned out to subscribers by the dispatcher goroutine in engine.go.
const (
	TypeStatus       MessageType = "STATUS"
	TypeRemoteChange MessageType = "REMOTE_CHANGE"
	TypeActivity     MessageType = "ACTIVITY"
	TypeResponse     MessageType = "RESPONSE"
	TypeError        MessageType = "ERROR"
)

// Message is the single envelope crossing the worker boundary in either
// direction, the Go analogue of the browser's postMessage payload.
type Message struct {
	Type      MessageType     `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

func encodePayload(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func decodePayload[T any](payload json.RawMessage) (T, error) {
	var v T
	if len(payload) == 0 {
		return v, nil
	}
	err := json.Unmarshal(payload, &v)
	return v, err
}
