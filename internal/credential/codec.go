package credential

import (
	"encoding/base64"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/iliyamo/event-checkin/internal/model"
)

// PayloadPrefix marks version 1 of the encoded credential string.
const PayloadPrefix = "CK1."

// signatureSize is the length of an HMAC-SHA-256 tag.
const signatureSize = 32

// maxPayloadLen bounds the input accepted by Decode.  A QR code cannot
// carry more than a few kilobytes anyway.
const maxPayloadLen = 4096

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	// Core deterministic encoding: identical credentials always produce
	// identical strings.
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("credential: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		MaxArrayElements: 16,
		MaxMapPairs:      16,
	}.DecMode()
	if err != nil {
		panic("credential: CBOR decoder initialization failed: " + err.Error())
	}
}

// Encode renders a credential as the compact string embedded in the
// scannable artifact.
func Encode(c model.Credential) (string, error) {
	raw, err := encMode.Marshal(c)
	if err != nil {
		return "", err
	}
	return PayloadPrefix + base64.RawURLEncoding.EncodeToString(raw), nil
}

// Decode parses an encoded credential.  Every structural problem is
// reported as model.ErrDecode; the signature itself is not checked here.
func Decode(s string) (model.Credential, error) {
	s = strings.TrimSpace(s)
	if len(s) > maxPayloadLen {
		return model.Credential{}, model.Errorf(model.ReasonDecodeError, "payload too long")
	}
	body, ok := strings.CutPrefix(s, PayloadPrefix)
	if !ok {
		return model.Credential{}, model.Errorf(model.ReasonDecodeError, "unknown payload prefix")
	}
	raw, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return model.Credential{}, &model.Error{Reason: model.ReasonDecodeError, Detail: "bad base64", Err: err}
	}
	var c model.Credential
	if err := decMode.Unmarshal(raw, &c); err != nil {
		return model.Credential{}, &model.Error{Reason: model.ReasonDecodeError, Detail: "bad cbor", Err: err}
	}
	switch {
	case c.BookingID == "", c.UserID == "", c.EventID == "", c.KeyID == "":
		return model.Credential{}, model.Errorf(model.ReasonDecodeError, "missing required field")
	case len(c.Signature) != signatureSize:
		return model.Credential{}, model.Errorf(model.ReasonDecodeError, "signature must be %d bytes", signatureSize)
	case c.IssuedAt <= 0:
		return model.Credential{}, model.Errorf(model.ReasonDecodeError, "missing issue time")
	}
	return c, nil
}
