// Package chataddr implements the ChatAddress value type shared by every
// inbound/outbound path in the dispatch core: "channel:localId", e.g.
// "whatsapp:1203630@g.us" or "telegram:-100123456".
package chataddr

import (
	"fmt"
	"strings"
)

// Address identifies a chat on a specific channel. It is stable across
// restarts and is used as the store's dedup/ordering key.
type Address struct {
	Channel string
	LocalID string
}

// Parse splits "channel:localId" into its parts. The local ID may itself
// contain colons (e.g. device-scoped WhatsApp JIDs), so only the first
// colon is treated as the separator.
func Parse(raw string) (Address, error) {
	idx := strings.IndexByte(raw, ':')
	if idx <= 0 || idx == len(raw)-1 {
		return Address{}, fmt.Errorf("chataddr: malformed address %q", raw)
	}
	return Address{Channel: raw[:idx], LocalID: raw[idx+1:]}, nil
}

// MustParse is Parse but panics on error; reserved for fixed test fixtures.
func MustParse(raw string) Address {
	a, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return a
}

// String renders the canonical "channel:localId" form.
func (a Address) String() string {
	return a.Channel + ":" + a.LocalID
}

// New builds an Address from separate parts.
func New(channel, localID string) Address {
	return Address{Channel: channel, LocalID: localID}
}

// Empty reports whether the address carries no identifying information.
func (a Address) Empty() bool {
	return a.Channel == "" || a.LocalID == ""
}
