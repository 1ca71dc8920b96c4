package protocol

import (
	"encoding/json"
	"testing"

	"github.com/my-personal-agent/chat-service/internal/domain"
)

func TestDecodeMessageFreeText(t *testing.T) {
	evt := ClientEvent{Message: json.RawMessage(`"hello there"`)}

	text, reply, err := evt.DecodeMessage()
	if err != nil {
		t.Fatalf("DecodeMessage failed: %v", err)
	}
	if reply != nil {
		t.Fatalf("expected no reply, got %+v", reply)
	}
	if text != "hello there" {
		t.Fatalf("unexpected text: %q", text)
	}
}

func TestDecodeMessageConfirmationReply(t *testing.T) {
	evt := ClientEvent{Message: json.RawMessage(
		`{"msg_id":"m1","approve":"update","data":{"args":{"subject":"hi"}}}`)}

	text, reply, err := evt.DecodeMessage()
	if err != nil {
		t.Fatalf("DecodeMessage failed: %v", err)
	}
	if text != "" {
		t.Fatalf("unexpected text: %q", text)
	}
	if reply == nil || reply.MsgID != "m1" || reply.Approve != domain.ApproveUpdate {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	if reply.Data == nil || reply.Data.Args["subject"] != "hi" {
		t.Fatalf("unexpected reply data: %+v", reply.Data)
	}
}

func TestDecodeMessageEmpty(t *testing.T) {
	evt := ClientEvent{}

	text, reply, err := evt.DecodeMessage()
	if err != nil || text != "" || reply != nil {
		t.Fatalf("expected empty decode, got %q %+v %v", text, reply, err)
	}
}

func TestDecodeMessageInvalid(t *testing.T) {
	evt := ClientEvent{Message: json.RawMessage(`[1,2,3]`)}

	if _, _, err := evt.DecodeMessage(); err == nil {
		t.Fatal("expected error for invalid payload")
	}
}

func TestSegmentFrame(t *testing.T) {
	seg := domain.Segment{
		ID:        "s1",
		ChatID:    "c1",
		GroupID:   "g1",
		Role:      domain.RoleAssistant,
		Content:   "partial",
		Timestamp: 1234.5,
	}

	frame := SegmentFrame(TypeMessaging, seg)
	if frame.Type != TypeMessaging || frame.ID != "s1" || frame.Content != "partial" {
		t.Fatalf("unexpected frame: %+v", frame)
	}

	raw, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded["type"] != "messaging" || decoded["chat_id"] != "c1" {
		t.Fatalf("unexpected wire form: %s", raw)
	}
}
