package credential

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"

	"github.com/iliyamo/event-checkin/internal/model"
)

const canonicalVersion byte = 1

// canonicalize returns the exact byte string covered by the signature.
// Strings are length-prefixed so no two distinct field tuples share an
// encoding.
func canonicalize(c model.Credential) []byte {
	buf := make([]byte, 0, 64+len(c.BookingID)+len(c.UserID)+len(c.EventID)+len(c.EventTitle)+len(c.KeyID))
	buf = append(buf, canonicalVersion)
	for _, s := range []string{c.BookingID, c.UserID, c.EventID, c.EventTitle} {
		buf = binary.AppendUvarint(buf, uint64(len(s)))
		buf = append(buf, s...)
	}
	buf = binary.BigEndian.AppendUint64(buf, uint64(int64(c.TicketQuantity)))
	buf = binary.BigEndian.AppendUint64(buf, uint64(c.IssuedAt))
	buf = binary.AppendUvarint(buf, uint64(len(c.KeyID)))
	buf = append(buf, c.KeyID...)
	return buf
}

func computeMAC(key []byte, c model.Credential) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(canonicalize(c))
	return mac.Sum(nil)
}
