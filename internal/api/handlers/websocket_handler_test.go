package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

type scriptedReader struct {
	messages []string
}

func (r *scriptedReader) ReadJSON(v any) error {
	if len(r.messages) == 0 {
		return errors.New("connection reset")
	}
	next := r.messages[0]
	r.messages = r.messages[1:]
	return json.Unmarshal([]byte(next), v)
}

func TestReadMessagesCancelsOnDisconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := &scriptedReader{messages: []string{`{"type":"query","text":"dor lombar"}`, `{"type":"ping"}`}}
	var types []string
	for msg := range readMessages(r, cancel) {
		types = append(types, msg.Type)
	}

	if strings.Join(types, ",") != "query,ping" {
		t.Errorf("unexpected messages %v", types)
	}
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("connection context was not cancelled after the read failed")
	}
}

func TestSplitIntoWordsRoundTrips(t *testing.T) {
	text := "Ponte glútea\n3 séries de 10 repetições"
	chunks := splitIntoWords(text)
	if len(chunks) != 7 {
		t.Errorf("expected 7 chunks, got %d: %q", len(chunks), chunks)
	}
	if got := strings.Join(chunks, ""); got != text {
		t.Errorf("chunks rebuild %q, want %q", got, text)
	}
	if splitIntoWords("") != nil {
		t.Error("empty text should produce no chunks")
	}
}
