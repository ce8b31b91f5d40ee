package record

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// Marshal encodes rec as a gob stream: the wire format kvstore.Store uses
// for the value half of its key/value pairs. Record's own fields are all
// already either plain bytes or gob-native, so this is a direct mirror,
// matching the teacher's pervasive use of encoding/gob for its own
// structured on-disk values (internal/wal/wal.go, pkg/storageService).
func Marshal(rec Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return nil, fmt.Errorf("record: marshal: %w", err)
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a Record previously produced by Marshal into out.
func Unmarshal(data []byte, out *Record) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(out); err != nil {
		return fmt.Errorf("record: unmarshal: %w", err)
	}
	return nil
}
