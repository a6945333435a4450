package gcd

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"

	"github.com/pkg/errors"
)

// AID is the content id of an attachment blob: the SHA-1 hash of its bytes.
type AID [sha1.Size]byte

// ZeroAID is the zero value of an AID.
var ZeroAID AID

// AIDOf computes the AID of a byte slice.
func AIDOf(b []byte) AID {
	return sha1.Sum(b)
}

func (a AID) String() string {
	return hex.EncodeToString(a[:])
}

// IsZero tells whether a is the zero AID.
func (a AID) IsZero() bool {
	return a == ZeroAID
}

func (a AID) Less(other AID) bool {
	return bytes.Compare(a[:], other[:]) < 0
}

// MarshalText implements encoding.TextMarshaler,
// so that AIDs appear as hex strings in JSON.
func (a AID) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *AID) UnmarshalText(text []byte) error {
	got, err := AIDFromHex(string(text))
	if err != nil {
		return err
	}
	*a = got
	return nil
}

// AIDFromHex parses the hex encoding of an AID.
func AIDFromHex(s string) (AID, error) {
	var out AID
	if len(s) != 2*sha1.Size {
		return out, errors.Wrapf(ErrInvalidAID, "wrong length %d", len(s))
	}
	if _, err := hex.Decode(out[:], []byte(s)); err != nil {
		return out, errors.Wrapf(ErrInvalidAID, "decoding %q: %s", s, err)
	}
	return out, nil
}

var (
	// ErrInvalidKey is the error for a tag that fails key validation.
	ErrInvalidKey = errors.New("invalid key")

	// ErrInvalidTimestamp is the error for a packet timestamp in the future.
	ErrInvalidTimestamp = errors.New("invalid timestamp")

	// ErrInvalidAttachment is the error for an attachment with an empty name or a nil stream.
	ErrInvalidAttachment = errors.New("invalid attachment")

	// ErrInvalidPayload is the error for a payload that has no JSON representation.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrInvalidAID is the error for a malformed attachment id.
	ErrInvalidAID = errors.New("invalid attachment id")

	// ErrInvalidRange is the error for a backlog window with start < 0 or end < start.
	ErrInvalidRange = errors.New("invalid backlog range")

	// ErrKeyNotFound is the error returned when a key has no backlog.
	ErrKeyNotFound = errors.New("key not found")

	// ErrAttachmentNotFound is the error returned when no blob exists for an AID.
	ErrAttachmentNotFound = errors.New("attachment not found")
)

// IsInvalid tells whether err is caused by bad caller input
// (as opposed to a missing key or a backend failure).
func IsInvalid(err error) bool {
	for _, target := range []error{ErrInvalidKey, ErrInvalidTimestamp, ErrInvalidAttachment, ErrInvalidPayload, ErrInvalidAID, ErrInvalidRange} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsNotFound tells whether err means a key or attachment does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrKeyNotFound) || errors.Is(err, ErrAttachmentNotFound)
}
