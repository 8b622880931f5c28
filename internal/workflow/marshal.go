package workflow

import (
	"encoding/json"
	"fmt"
)

// persistedVersion guards the session wire format. Bump when the session
// shape changes incompatibly; Restore drops unrecognized versions.
const persistedVersion = 1

// envelope wraps the session with a format version for persistence.
// encoding/json sorts map keys, so the serialized form is deterministic
// and safe for golden comparison.
type envelope struct {
	Version int     `json:"version"`
	Session Session `json:"session"`
}

// marshalSession serializes a session for the KV store.
func marshalSession(s Session) ([]byte, error) {
	data, err := json.Marshal(envelope{Version: persistedVersion, Session: s})
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}
	return data, nil
}

// DecodeSession deserializes a persisted session envelope. It exists for
// tooling that reads the session store directly; the engine itself goes
// through Restore.
func DecodeSession(data []byte) (Session, error) {
	return unmarshalSession(data)
}

// unmarshalSession deserializes a persisted session, rejecting unknown
// format versions.
func unmarshalSession(data []byte) (Session, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Session{}, fmt.Errorf("unmarshal session: %w", err)
	}
	if env.Version != persistedVersion {
		return Session{}, fmt.Errorf("unsupported session version %d (want %d)", env.Version, persistedVersion)
	}
	return env.Session, nil
}
