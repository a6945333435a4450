package gcd

import (
	"encoding/json"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Packet is one immutable version of the value stored under a key.
//
// A packet read back from a Store carries its attachments as content ids in Attachments.
// A packet about to be saved may additionally carry raw streams in Pending;
// Store.Save consumes them and returns a packet whose Attachments include their ids.
type Packet struct {
	Key       string
	Payload   interface{}
	Timestamp time.Time

	Attachments map[string]AID
	Pending     map[string]io.Reader
}

var keyRegex = regexp.MustCompile(`^[a-z0-9_.-]+$`)

// ValidateKey checks that key is a well-formed tag:
// non-empty, made of [a-z0-9_.-],
// not starting or ending with a dot,
// and with no empty dot-separated segments.
func ValidateKey(key string) error {
	switch {
	case key == "":
		return errors.Wrap(ErrInvalidKey, "empty key")
	case key[0] == '.' || key[len(key)-1] == '.':
		return errors.Wrapf(ErrInvalidKey, "%q starts or ends with a dot", key)
	case strings.Contains(key, ".."):
		return errors.Wrapf(ErrInvalidKey, "%q has a double dot", key)
	case !keyRegex.MatchString(key):
		return errors.Wrapf(ErrInvalidKey, "%q may contain only [a-z0-9], underscores, dashes and dots", key)
	}
	return nil
}

// ValidateTimestamp checks that t is not later than the current time.
func ValidateTimestamp(t time.Time) error {
	if now := time.Now(); t.After(now) {
		return errors.Wrapf(ErrInvalidTimestamp, "%s is in the future (now is %s)", t.Format(TimeLayout), now.UTC().Format(TimeLayout))
	}
	return nil
}

// ValidateAttachments checks that every attachment has a name and a stream to read from.
func ValidateAttachments(attachments map[string]io.Reader) error {
	for name, r := range attachments {
		if name == "" {
			return errors.Wrap(ErrInvalidAttachment, "empty attachment name")
		}
		if r == nil {
			return errors.Wrapf(ErrInvalidAttachment, "attachment %s has no stream", name)
		}
	}
	return nil
}

// PacketOption configures NewPacket.
type PacketOption func(*Packet)

// WithTimestamp sets the packet timestamp in place of the current time.
// A zero t leaves the timestamp for Save (or a remote server) to assign.
func WithTimestamp(t time.Time) PacketOption {
	return func(p *Packet) {
		p.Timestamp = t
	}
}

// WithAttachments adds named streams to be stored with the packet.
func WithAttachments(attachments map[string]io.Reader) PacketOption {
	return func(p *Packet) {
		for name, r := range attachments {
			p.Pending[name] = r
		}
	}
}

// NewPacket validates its arguments and constructs a Packet.
//
// The payload is normalized to the form encoding/json decodes into,
// so that a packet compares equal to itself after a round trip through any backend.
// Timestamps are truncated to microseconds, the precision of TimeLayout.
func NewPacket(key string, payload interface{}, opts ...PacketOption) (*Packet, error) {
	p := &Packet{
		Key:         key,
		Timestamp:   time.Now(),
		Attachments: make(map[string]AID),
		Pending:     make(map[string]io.Reader),
	}
	for _, opt := range opts {
		opt(p)
	}

	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if err := ValidateTimestamp(p.Timestamp); err != nil {
		return nil, err
	}
	if err := ValidateAttachments(p.Pending); err != nil {
		return nil, err
	}

	norm, err := NormalizePayload(payload)
	if err != nil {
		return nil, err
	}
	p.Payload = norm
	p.Timestamp = NormalizeTime(p.Timestamp)

	return p, nil
}

// Validate checks the key, timestamp and pending attachments of p.
func (p *Packet) Validate() error {
	if err := ValidateKey(p.Key); err != nil {
		return err
	}
	if err := ValidateTimestamp(p.Timestamp); err != nil {
		return err
	}
	return ValidateAttachments(p.Pending)
}

// NormalizePayload converts v to the value encoding/json would decode from v's JSON encoding.
func NormalizePayload(v interface{}) (interface{}, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidPayload, "%T: %s", v, err)
	}
	var out interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, errors.Wrapf(ErrInvalidPayload, "%T: %s", v, err)
	}
	return out, nil
}

// NormalizeTime returns t in UTC, truncated to microseconds.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
