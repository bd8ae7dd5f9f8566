package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/replica/internal/canonical"
	"github.com/roach88/replica/internal/crdt"
)

// timeLayout is fixed-width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// marshalFields converts node attributes to canonical JSON TEXT.
// Field values keep their type tags so text CRDT state survives storage.
func marshalFields(fields crdt.Fields) (string, error) {
	if fields == nil {
		fields = crdt.Fields{}
	}
	data, err := canonical.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("marshal attributes: %w", err)
	}
	return string(data), nil
}

// unmarshalFields parses attribute JSON TEXT.
func unmarshalFields(data string) (crdt.Fields, error) {
	fields := crdt.Fields{}
	if data == "" || data == "{}" {
		return fields, nil
	}
	if err := json.Unmarshal([]byte(data), &fields); err != nil {
		return nil, fmt.Errorf("unmarshal attributes: %w", err)
	}
	return fields, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}
