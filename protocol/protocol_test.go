package protocol

import (
	"errors"
	"testing"
)

func TestParsePacket(t *testing.T) {
	tests := []struct {
		line   string
		typ    string
		fields []string
	}{
		{"ping\n", "ping", nil},
		{"reg|alice|Alice Smith|secret\r\n", "reg", []string{"alice", "Alice Smith", "secret"}},
		{"msg|bob|a \\| b\\, c\\\\d\\nnext\n", "msg", []string{"bob", "a | b, c\\d\nnext"}},
		{"hist|bob|", "hist", []string{"bob", ""}},
	}

	for _, tt := range tests {
		pkt, err := ParsePacket(tt.line)
		if err != nil {
			t.Fatalf("ParsePacket(%q) failed: %v", tt.line, err)
		}
		if pkt.Type != tt.typ {
			t.Errorf("ParsePacket(%q): type %q, want %q", tt.line, pkt.Type, tt.typ)
		}
		if len(pkt.Fields) != len(tt.fields) {
			t.Fatalf("ParsePacket(%q): fields %q, want %q", tt.line, pkt.Fields, tt.fields)
		}
		for i := range tt.fields {
			if pkt.Fields[i] != tt.fields[i] {
				t.Errorf("ParsePacket(%q): field %d = %q, want %q", tt.line, i, pkt.Fields[i], tt.fields[i])
			}
		}
	}
}

func TestParsePacketEmpty(t *testing.T) {
	if _, err := ParsePacket("\n"); !errors.Is(err, ErrInvalidPacket) {
		t.Errorf("Expected ErrInvalidPacket, got %v", err)
	}
	if _, err := ParsePacket("|x"); !errors.Is(err, ErrInvalidPacket) {
		t.Errorf("Expected ErrInvalidPacket, got %v", err)
	}
}

func TestPacketField(t *testing.T) {
	pkt := &Packet{Type: "msg", Fields: []string{"bob"}}
	if pkt.Field(0) != "bob" || pkt.Field(1) != "" || pkt.Field(-1) != "" {
		t.Errorf("Unexpected Field results")
	}
}

func TestFormatPacketEscapesFields(t *testing.T) {
	got := FormatPacket("fail", "msg", "Recipient|not, found")
	want := "fail|msg|Recipient\\|not\\, found\n"
	if got != want {
		t.Errorf("FormatPacket = %q, want %q", got, want)
	}

	pkt, err := ParsePacket(got)
	if err != nil {
		t.Fatalf("ParsePacket failed: %v", err)
	}
	if pkt.Field(1) != "Recipient|not, found" {
		t.Errorf("Field did not survive escaping: %q", pkt.Field(1))
	}
}

func TestListPacket(t *testing.T) {
	items := [][]string{
		{"m1", "alice", "hi, bob | how are you?"},
		{"m2", "bob", "fine\nthanks"},
	}
	line := FormatListPacket("messages", []string{"bob"}, items)

	pkt, got, err := ParseListPacket(line, 1)
	if err != nil {
		t.Fatalf("ParseListPacket failed: %v", err)
	}
	if pkt.Type != "messages" || pkt.Field(0) != "bob" {
		t.Errorf("Unexpected head %+v", pkt)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 items, got %d: %q", len(got), got)
	}
	for i := range items {
		for j := range items[i] {
			if got[i][j] != items[i][j] {
				t.Errorf("Item %d field %d = %q, want %q", i, j, got[i][j], items[i][j])
			}
		}
	}
}

func TestListPacketEmpty(t *testing.T) {
	line := FormatListPacket("pending-requests", nil, nil)
	if line != "pending-requests|\n" {
		t.Errorf("Unexpected empty list encoding %q", line)
	}

	_, items, err := ParseListPacket(line, 0)
	if err != nil {
		t.Fatalf("ParseListPacket failed: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("Expected no items, got %q", items)
	}
}

func TestEscapeCharacters(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello|world", "hello\\|world"},
		{"a,b", "a\\,b"},
		{"back\\slash", "back\\\\slash"},
		{"line1\nline2\r", "line1\\nline2\\r"},
		{"plain", "plain"},
	}

	for _, tt := range tests {
		if got := Escape(tt.input); got != tt.expected {
			t.Errorf("Escape(%q) = %q, want %q", tt.input, got, tt.expected)
		}
		if back := unescape(Escape(tt.input)); back != tt.input {
			t.Errorf("unescape(Escape(%q)) = %q", tt.input, back)
		}
	}
}

func TestUnescapeUnknownSequence(t *testing.T) {
	if got := unescape("a\\qb"); got != "a\\qb" {
		t.Errorf("Unknown escape should be kept, got %q", got)
	}
	if got := unescape("trailing\\"); got != "trailing\\" {
		t.Errorf("Trailing backslash should be kept, got %q", got)
	}
}
