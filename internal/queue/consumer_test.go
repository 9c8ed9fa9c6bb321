package queue

import (
	"bytes"
	"testing"
)

func TestFormatLine(t *testing.T) {
	got := FormatLine(AuthEvent{
		Type:       "session.reuse_detected",
		OwnerKind:  "shop",
		OwnerID:    "3",
		SessionID:  "abc",
		IP:         "10.0.0.1",
		OccurredAt: "2026-03-01T12:00:00Z",
	})
	want := `[2026-03-01T12:00:00Z] session.reuse_detected | owner="shop:3" | session_id="abc" | ip="10.0.0.1"` + "\n"
	if got != want {
		t.Fatalf("got  %q\nwant %q", got, want)
	}
}

func TestHandleMessage(t *testing.T) {
	var buf bytes.Buffer
	if err := HandleMessage(&buf, []byte(`{"type":"session.logout","owner_kind":"customer","owner_id":"7","occurred_at":"t"}`)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if buf.String() != `[t] session.logout | owner="customer:7"`+"\n" {
		t.Fatalf("unexpected line %q", buf.String())
	}

	for name, body := range map[string]string{
		"not json":     `{`,
		"missing type": `{"owner_id":"7"}`,
	} {
		if err := HandleMessage(&buf, []byte(body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
