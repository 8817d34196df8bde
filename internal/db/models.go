package db

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("not found")

type Conversation struct {
	ID        string `json:"id"`
	Mode      string `json:"mode"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// TurnRecord is a stored conversation turn. Ordinal is assigned on append
// and is dense per conversation starting at 1.
type TurnRecord struct {
	ID             string   `json:"id"`
	ConversationID string   `json:"conversation_id"`
	Ordinal        int      `json:"ordinal"`
	Author         string   `json:"author"`
	Label          string   `json:"label"`
	Content        string   `json:"content"`
	Suggestions    []string `json:"suggestions"`
	CreatedAt      string   `json:"created_at"`
}

type ConversationFilter struct {
	Mode   string
	Limit  int
	Offset int
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

func formatTimestamp(ts time.Time) string {
	if ts.IsZero() {
		ts = nowUTC()
	}
	return ts.UTC().Format(time.RFC3339Nano)
}

func parseTimestamp(v string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", v, err)
	}
	return ts, nil
}

func encodeStringSlice(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	buf, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("failed to encode string slice: %w", err)
	}
	return string(buf), nil
}

func decodeStringSlice(raw string) ([]string, error) {
	if raw == "" {
		return []string{}, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, fmt.Errorf("failed to decode string slice: %w", err)
	}
	return values, nil
}
