package credential

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// MinKeySize is the smallest accepted HMAC key, in bytes.
const MinKeySize = 32

// Keyring holds the HMAC keys used to sign and verify credentials.  One
// key is active for signing; every key verifies, so keys can rotate
// without invalidating credentials already in attendees' hands.
type Keyring struct {
	active string
	keys   map[string][]byte
}

// NewKeyring builds a keyring with the given active key id.  The active
// id must be present in keys.
func NewKeyring(active string, keys map[string][]byte) (*Keyring, error) {
	if len(keys) == 0 {
		return nil, errors.New("credential: keyring is empty")
	}
	ring := &Keyring{active: active, keys: make(map[string][]byte, len(keys))}
	for id, k := range keys {
		if id == "" {
			return nil, errors.New("credential: empty key id")
		}
		if len(k) < MinKeySize {
			return nil, fmt.Errorf("credential: key %q shorter than %d bytes", id, MinKeySize)
		}
		ring.keys[id] = append([]byte(nil), k...)
	}
	if _, ok := ring.keys[active]; !ok {
		return nil, fmt.Errorf("credential: active key %q not in keyring", active)
	}
	return ring, nil
}

// ParseKeyring parses "id:hex,id:hex" as produced by configuration.  The
// first entry is the active signing key.
func ParseKeyring(spec string) (*Keyring, error) {
	keys := map[string][]byte{}
	active := ""
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, hexKey, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("credential: key entry %q is not id:hex", part)
		}
		raw, err := hex.DecodeString(strings.TrimSpace(hexKey))
		if err != nil {
			return nil, fmt.Errorf("credential: key %q: %w", id, err)
		}
		id = strings.TrimSpace(id)
		if _, dup := keys[id]; dup {
			return nil, fmt.Errorf("credential: duplicate key id %q", id)
		}
		keys[id] = raw
		if active == "" {
			active = id
		}
	}
	return NewKeyring(active, keys)
}

// WithActive returns a copy of the keyring signing with id.
func (k *Keyring) WithActive(id string) (*Keyring, error) {
	if _, ok := k.keys[id]; !ok {
		return nil, fmt.Errorf("credential: active key %q not in keyring", id)
	}
	return &Keyring{active: id, keys: k.keys}, nil
}

// ActiveID returns the id of the signing key.
func (k *Keyring) ActiveID() string { return k.active }

func (k *Keyring) key(id string) ([]byte, bool) {
	key, ok := k.keys[id]
	return key, ok
}
