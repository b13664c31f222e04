package protocol

import (
	"errors"
	"strings"
)

var (
	ErrInvalidPacket = errors.New("invalid packet format")
)

// Packet is one decoded line: TYPE|field|field...
type Packet struct {
	Type   string
	Fields []string
}

// Field returns the i-th field or "" when it is missing.
func (p *Packet) Field(i int) string {
	if i < 0 || i >= len(p.Fields) {
		return ""
	}
	return p.Fields[i]
}

func ParsePacket(line string) (*Packet, error) {
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")

	parts := splitUnescaped(line, '|')
	if len(parts) < 1 || parts[0] == "" {
		return nil, ErrInvalidPacket
	}

	pkt := &Packet{
		Type: unescape(parts[0]),
	}
	for _, part := range parts[1:] {
		pkt.Fields = append(pkt.Fields, unescape(part))
	}

	return pkt, nil
}

// FormatPacket builds TYPE|field|field...\n, escaping every field on its own.
func FormatPacket(pktType string, fields ...string) string {
	parts := make([]string, 0, len(fields)+1)
	parts = append(parts, Escape(pktType))
	for _, field := range fields {
		parts = append(parts, Escape(field))
	}
	return strings.Join(parts, "|") + "\n"
}

// FormatListPacket builds TYPE|head...|item,item,... where every item is a
// group of escaped sub-fields joined by a raw |.
func FormatListPacket(pktType string, head []string, items [][]string) string {
	parts := make([]string, 0, len(head)+2)
	parts = append(parts, Escape(pktType))
	for _, field := range head {
		parts = append(parts, Escape(field))
	}

	encoded := make([]string, 0, len(items))
	for _, item := range items {
		sub := make([]string, 0, len(item))
		for _, field := range item {
			sub = append(sub, Escape(field))
		}
		encoded = append(encoded, strings.Join(sub, "|"))
	}
	parts = append(parts, strings.Join(encoded, ","))

	return strings.Join(parts, "|") + "\n"
}

// ParseListPacket decodes a packet produced by FormatListPacket with
// headCount leading fields.
func ParseListPacket(line string, headCount int) (*Packet, [][]string, error) {
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")

	parts := splitUnescapedN(line, '|', headCount+2)
	if len(parts) < headCount+1 || parts[0] == "" {
		return nil, nil, ErrInvalidPacket
	}

	pkt := &Packet{Type: unescape(parts[0])}
	for _, part := range parts[1 : headCount+1] {
		pkt.Fields = append(pkt.Fields, unescape(part))
	}

	var items [][]string
	if len(parts) == headCount+2 && parts[headCount+1] != "" {
		for _, raw := range splitUnescaped(parts[headCount+1], ',') {
			var item []string
			for _, field := range splitUnescaped(raw, '|') {
				item = append(item, unescape(field))
			}
			items = append(items, item)
		}
	}

	return pkt, items, nil
}

// splitUnescaped splits s on delimiter, skipping escaped characters.
// Escape sequences are kept as-is for a later unescape.
func splitUnescaped(s string, delimiter rune) []string {
	return splitUnescapedN(s, delimiter, -1)
}

func splitUnescapedN(s string, delimiter rune, n int) []string {
	var parts []string
	var current strings.Builder
	escape := false

	for _, r := range s {
		if escape {
			current.WriteRune(r)
			escape = false
			continue
		}

		if r == '\\' {
			escape = true
			current.WriteRune(r)
			continue
		}

		if r == delimiter && (n < 0 || len(parts) < n-1) {
			parts = append(parts, current.String())
			current.Reset()
			continue
		}

		current.WriteRune(r)
	}

	parts = append(parts, current.String())
	return parts
}

// escapes maps each reserved character to the letter that follows the
// backslash on the wire.
var escapes = map[rune]rune{
	'|':  '|',
	',':  ',',
	'\\': '\\',
	'\n': 'n',
	'\r': 'r',
}

var unescapes = func() map[rune]rune {
	m := make(map[rune]rune, len(escapes))
	for raw, code := range escapes {
		m[code] = raw
	}
	return m
}()

// unescape reverses Escape. Unknown sequences and a trailing backslash are
// kept as they are.
func unescape(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))

	pending := false
	for _, r := range s {
		if !pending {
			if r == '\\' {
				pending = true
			} else {
				b.WriteRune(r)
			}
			continue
		}

		pending = false
		if raw, ok := unescapes[r]; ok {
			b.WriteRune(raw)
		} else {
			b.WriteRune('\\')
			b.WriteRune(r)
		}
	}
	if pending {
		b.WriteRune('\\')
	}

	return b.String()
}

// Escape protects the characters that carry meaning on the wire.
func Escape(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	for _, r := range s {
		if code, ok := escapes[r]; ok {
			b.WriteRune('\\')
			b.WriteRune(code)
			continue
		}
		b.WriteRune(r)
	}

	return b.String()
}
