package gcd

import (
	"path"
	"strings"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// TimeLayout is the text format of packet timestamps in exchange records.
// It is always UTC.
const TimeLayout = "2006-01-02 15:04:05.000000"

// AttachmentPrefix is the path under which attachments are retrieved.
const AttachmentPrefix = "/attachment/"

// AttachmentPath is the retrieval reference for an attachment id.
func AttachmentPath(id AID) string {
	return AttachmentPrefix + id.String()
}

// Record is the wire-safe form of a Packet.
type Record struct {
	Key         string            `json:"key"`
	Payload     interface{}       `json:"payload"`
	Timestamp   string            `json:"timestamp"`
	Attachments map[string]string `json:"attachments"`
}

// Exchange converts p to its wire-safe form.
// Attachments appear as retrieval references, not bare ids,
// so clients need not know how blobs are laid out.
func (p *Packet) Exchange() Record {
	r := Record{
		Key:         p.Key,
		Payload:     p.Payload,
		Timestamp:   p.Timestamp.UTC().Format(TimeLayout),
		Attachments: make(map[string]string, len(p.Attachments)),
	}
	for name, id := range p.Attachments {
		r.Attachments[name] = AttachmentPath(id)
	}
	return r
}

// FromExchange converts a wire-safe record back to a Packet.
// An empty timestamp means now.
// Attachment references may be full retrieval references or bare hex ids.
func FromExchange(r Record) (*Packet, error) {
	var opts []PacketOption
	if r.Timestamp != "" {
		t, err := ParseTimestamp(r.Timestamp)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithTimestamp(t))
	}

	p, err := NewPacket(r.Key, r.Payload, opts...)
	if err != nil {
		return nil, err
	}
	if err := parseRefs(p, r.Attachments); err != nil {
		return nil, err
	}
	return p, nil
}

// FromPersisted converts a record produced by Exchange back to a Packet.
// Unlike FromExchange it does not apply the checks for new input,
// so a record stamped by a server whose clock runs ahead still decodes.
func FromPersisted(r Record) (*Packet, error) {
	t, err := ParseTimestamp(r.Timestamp)
	if err != nil {
		return nil, err
	}
	p := &Packet{
		Key:         r.Key,
		Payload:     r.Payload,
		Timestamp:   t,
		Attachments: make(map[string]AID, len(r.Attachments)),
	}
	if err := parseRefs(p, r.Attachments); err != nil {
		return nil, err
	}
	return p, nil
}

// ParseTimestamp parses a timestamp in TimeLayout.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.ParseInLocation(TimeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, errors.Wrapf(ErrInvalidTimestamp, "parsing %q: %s", s, err)
	}
	return t, nil
}

func parseRefs(p *Packet, refs map[string]string) error {
	for name, ref := range refs {
		if name == "" {
			return errors.Wrap(ErrInvalidAttachment, "empty attachment name")
		}
		id, err := AIDFromHex(path.Base(strings.TrimSuffix(ref, "/")))
		if err != nil {
			return errors.Wrapf(err, "attachment %s", name)
		}
		p.Attachments[name] = id
	}
	return nil
}

// EncodeBacklog serializes a newest-first sequence of persisted packets.
// Pending streams are not part of the encoding.
func EncodeBacklog(packets []*Packet) ([]byte, error) {
	list := &structpb.ListValue{Values: make([]*structpb.Value, 0, len(packets))}
	for _, p := range packets {
		atts := make(map[string]interface{}, len(p.Attachments))
		for name, id := range p.Attachments {
			atts[name] = id.String()
		}
		v, err := structpb.NewValue(map[string]interface{}{
			"key":         p.Key,
			"payload":     p.Payload,
			"timestamp":   p.Timestamp.UTC().Format(TimeLayout),
			"attachments": atts,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "encoding packet for %s at %s", p.Key, p.Timestamp)
		}
		list.Values = append(list.Values, v)
	}
	b, err := proto.Marshal(list)
	return b, errors.Wrap(err, "marshaling backlog")
}

// DecodeBacklog is the inverse of EncodeBacklog.
func DecodeBacklog(b []byte) ([]*Packet, error) {
	var list structpb.ListValue
	if err := proto.Unmarshal(b, &list); err != nil {
		return nil, errors.Wrap(err, "unmarshaling backlog")
	}

	packets := make([]*Packet, 0, len(list.Values))
	for i, v := range list.Values {
		s := v.GetStructValue()
		if s == nil {
			return nil, errors.Errorf("backlog entry %d is not a struct", i)
		}
		fields := s.GetFields()

		ts := fields["timestamp"].GetStringValue()
		t, err := time.ParseInLocation(TimeLayout, ts, time.UTC)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing timestamp %q of backlog entry %d", ts, i)
		}

		p := &Packet{
			Key:         fields["key"].GetStringValue(),
			Timestamp:   t,
			Attachments: make(map[string]AID),
		}
		if payload, ok := fields["payload"]; ok {
			p.Payload = payload.AsInterface()
		}
		for name, ref := range fields["attachments"].GetStructValue().GetFields() {
			id, err := AIDFromHex(ref.GetStringValue())
			if err != nil {
				return nil, errors.Wrapf(err, "decoding attachment %s of backlog entry %d", name, i)
			}
			p.Attachments[name] = id
		}
		packets = append(packets, p)
	}
	return packets, nil
}
