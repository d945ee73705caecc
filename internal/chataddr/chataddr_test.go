package chataddr

import "testing"

func TestParseRoundTrip(t *testing.T) {
	cases := []string{
		"whatsapp:1203630@g.us",
		"telegram:-100123456",
		"discord:908123:thread-5",
	}
	for _, raw := range cases {
		addr, err := Parse(raw)
		if err != nil {
			t.Fatalf("Parse(%q): %v", raw, err)
		}
		if got := addr.String(); got != raw {
			t.Errorf("round-trip mismatch: got %q want %q", got, raw)
		}
	}
}

func TestParseMalformed(t *testing.T) {
	for _, raw := range []string{"", "noseparator", ":leadingcolon", "trailingcolon:"} {
		if _, err := Parse(raw); err == nil {
			t.Errorf("Parse(%q) expected error, got nil", raw)
		}
	}
}

func TestEmpty(t *testing.T) {
	if !(Address{}).Empty() {
		t.Error("zero value should be Empty")
	}
	if New("whatsapp", "123").Empty() {
		t.Error("populated address should not be Empty")
	}
}
