package memory

import "encoding/json"

// Persisted snapshots are wrapped as {payload, timestamp} inside the GCM
// envelope so loaders can tell which generation a store came from.
type wrappedSnapshot struct {
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

func marshalWrapped(payload any, ts int64) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wrappedSnapshot{Payload: raw, Timestamp: ts})
}

func unmarshalWrapped(raw []byte, dst any) error {
	var w wrappedSnapshot
	if err := json.Unmarshal(raw, &w); err != nil {
		return err
	}
	return json.Unmarshal(w.Payload, dst)
}
