package protocol

import (
	"errors"
	"testing"
)

func TestParseClientMessageInitialize(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"initialize","character":"sage"}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	init, ok := msg.(Initialize)
	if !ok {
		t.Fatalf("message type = %T, want Initialize", msg)
	}
	if init.Character != "sage" {
		t.Fatalf("Character = %q, want %q", init.Character, "sage")
	}
}

func TestParseClientMessageRejectsMissingFields(t *testing.T) {
	cases := []string{
		`{"type":"initialize"}`,
		`{"type":"text_message"}`,
		`{"type":"audio"}`,
	}
	for _, raw := range cases {
		if _, err := ParseClientMessage([]byte(raw)); err == nil {
			t.Fatalf("ParseClientMessage(%s) should fail", raw)
		}
	}
}

func TestParseClientMessageUnsupportedType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"telepathy"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageBadJSON(t *testing.T) {
	if _, err := ParseClientMessage([]byte(`{nope`)); err == nil {
		t.Fatalf("ParseClientMessage should fail on invalid JSON")
	}
}
