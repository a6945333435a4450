// Package client implements gcd.Service against a remote gcd server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/ldotlopez/gcd"
	"github.com/ldotlopez/gcd/server"
)

var _ gcd.Service = &Client{}

// Client is the client for a gcd server.
type Client struct {
	base string
	hc   *http.Client
}

// New produces a new Client talking to the server at base,
// e.g. http://localhost:8080.
// If hc is nil, http.DefaultClient is used.
func New(base string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{base: strings.TrimSuffix(base, "/"), hc: hc}
}

// StatusError is an unexpected HTTP response from the server.
type StatusError struct {
	Code int
	Msg  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Msg)
}

// Save implements gcd.Service.Save.
// A packet with no attachments is sent as a bare JSON payload,
// anything else as a multipart form.
func (c *Client) Save(ctx context.Context, p *gcd.Packet) (*gcd.Packet, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(p.Payload)
	if err != nil {
		return nil, errors.Wrapf(gcd.ErrInvalidPayload, "encoding payload: %s", err)
	}

	var (
		u     = c.base + "/packet/" + url.PathEscape(p.Key)
		ctype = "application/json"
		body  io.Reader
	)
	if len(p.Attachments) == 0 && len(p.Pending) == 0 {
		if !p.Timestamp.IsZero() {
			u += "?" + url.Values{server.TimestampField: {p.Timestamp.UTC().Format(gcd.TimeLayout)}}.Encode()
		}
		body = bytes.NewReader(payload)
	} else {
		pr, pw := io.Pipe()
		mw := multipart.NewWriter(pw)
		go func() {
			pw.CloseWithError(writeForm(mw, p, payload))
		}()
		ctype = mw.FormDataContentType()
		body = pr
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, body)
	if err != nil {
		return nil, errors.Wrap(err, "creating request")
	}
	req.Header.Set("Content-Type", ctype)

	var r gcd.Record
	if err := c.do(req, &r, gcd.ErrKeyNotFound); err != nil {
		return nil, errors.Wrapf(err, "saving %s", p.Key)
	}
	return gcd.FromPersisted(r)
}

// writeForm streams p to mw in the form the server's multipart handler reads.
func writeForm(mw *multipart.Writer, p *gcd.Packet, payload []byte) error {
	if err := mw.WriteField(server.PayloadField, string(payload)); err != nil {
		return errors.Wrap(err, "writing payload field")
	}
	if !p.Timestamp.IsZero() {
		if err := mw.WriteField(server.TimestampField, p.Timestamp.UTC().Format(gcd.TimeLayout)); err != nil {
			return errors.Wrap(err, "writing timestamp field")
		}
	}
	if len(p.Attachments) > 0 {
		refs := make(map[string]string, len(p.Attachments))
		for name, id := range p.Attachments {
			refs[name] = gcd.AttachmentPath(id)
		}
		b, err := json.Marshal(refs)
		if err != nil {
			return errors.Wrap(err, "encoding attachment references")
		}
		if err := mw.WriteField(server.AttachmentsField, string(b)); err != nil {
			return errors.Wrap(err, "writing attachments field")
		}
	}

	names := make([]string, 0, len(p.Pending))
	for name := range p.Pending {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fw, err := mw.CreateFormFile(server.AttachmentsPrefix+name, name)
		if err != nil {
			return errors.Wrapf(err, "creating form file for attachment %s", name)
		}
		if _, err := io.Copy(fw, p.Pending[name]); err != nil {
			return errors.Wrapf(err, "sending attachment %s", name)
		}
	}
	return mw.Close()
}

// Get implements gcd.Service.Get.
func (c *Client) Get(ctx context.Context, key string) (*gcd.Packet, error) {
	if err := gcd.ValidateKey(key); err != nil {
		return nil, err
	}
	var r gcd.Record
	if err := c.get(ctx, "/packet/"+url.PathEscape(key), &r, gcd.ErrKeyNotFound); err != nil {
		return nil, errors.Wrapf(err, "getting %s", key)
	}
	return gcd.FromPersisted(r)
}

// Backlog implements gcd.Service.Backlog.
// The server sends only payloads and timestamps,
// so the packets it returns carry no attachments.
func (c *Client) Backlog(ctx context.Context, key string, start, end int) ([]*gcd.Packet, error) {
	if err := gcd.ValidateKey(key); err != nil {
		return nil, err
	}
	if start < 0 || end < start {
		return nil, errors.Wrapf(gcd.ErrInvalidRange, "[%d, %d)", start, end)
	}

	q := url.Values{"start": {strconv.Itoa(start)}, "end": {strconv.Itoa(end)}}
	var versions []server.Version
	if err := c.get(ctx, "/packet/"+url.PathEscape(key)+"/backlog?"+q.Encode(), &versions, gcd.ErrKeyNotFound); err != nil {
		return nil, errors.Wrapf(err, "getting backlog of %s", key)
	}

	result := make([]*gcd.Packet, 0, len(versions))
	for _, v := range versions {
		t, err := gcd.ParseTimestamp(v.Timestamp)
		if err != nil {
			return nil, errors.Wrapf(err, "backlog of %s", key)
		}
		result = append(result, &gcd.Packet{
			Key:         key,
			Payload:     v.Payload,
			Timestamp:   t,
			Attachments: make(map[string]gcd.AID),
		})
	}
	return result, nil
}

// List implements gcd.Service.List.
func (c *Client) List(ctx context.Context, namespace string) ([]string, error) {
	p := "/packets"
	if namespace != "" {
		if err := gcd.ValidateKey(namespace); err != nil {
			return nil, errors.Wrap(err, "validating namespace")
		}
		p = "/packet/" + url.PathEscape(namespace) + "/children"
	}

	var children []server.Child
	if err := c.get(ctx, p, &children, gcd.ErrKeyNotFound); err != nil {
		return nil, errors.Wrapf(err, "listing %q", namespace)
	}

	result := make([]string, 0, len(children))
	for _, child := range children {
		result = append(result, strings.TrimPrefix(child.Key, namespace+"."))
	}
	return result, nil
}

// OpenAttachment implements gcd.Service.OpenAttachment.
// The caller must close the result.
func (c *Client) OpenAttachment(ctx context.Context, id gcd.AID) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+gcd.AttachmentPath(id), nil)
	if err != nil {
		return nil, errors.Wrap(err, "creating request")
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "getting attachment %s", id)
	}
	if err := checkStatus(resp, gcd.ErrAttachmentNotFound); err != nil {
		resp.Body.Close()
		return nil, errors.Wrapf(err, "getting attachment %s", id)
	}
	return resp.Body, nil
}

func (c *Client) get(ctx context.Context, p string, v interface{}, notFound error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+p, nil)
	if err != nil {
		return errors.Wrap(err, "creating request")
	}
	return c.do(req, v, notFound)
}

// do sends req and decodes a successful JSON response into v.
func (c *Client) do(req *http.Request, v interface{}, notFound error) error {
	resp, err := c.hc.Do(req)
	if err != nil {
		return errors.Wrapf(err, "sending %s %s", req.Method, req.URL.Path)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp, notFound); err != nil {
		return err
	}
	return errors.Wrap(json.NewDecoder(resp.Body).Decode(v), "decoding response")
}

// invalid lists the errors the server reports as 400 Bad Request.
var invalid = []error{
	gcd.ErrInvalidKey,
	gcd.ErrInvalidTimestamp,
	gcd.ErrInvalidAttachment,
	gcd.ErrInvalidPayload,
	gcd.ErrInvalidAID,
	gcd.ErrInvalidRange,
}

// checkStatus maps a 404 to notFound,
// a 400 to the invalid-input error named at the end of its message,
// and other non-200 responses to a *StatusError.
func checkStatus(resp *http.Response, notFound error) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	serr := &StatusError{Code: resp.StatusCode, Msg: strings.TrimSpace(string(msg))}
	switch resp.StatusCode {
	case http.StatusNotFound:
		return wrapStatus(notFound, serr)
	case http.StatusBadRequest:
		for _, e := range invalid {
			if strings.HasSuffix(serr.Msg, e.Error()) {
				return wrapStatus(e, serr)
			}
		}
	}
	return serr
}

// wrapStatus wraps e with the part of serr's message that precedes e's own text.
func wrapStatus(e error, serr *StatusError) error {
	msg := strings.TrimSuffix(strings.TrimSuffix(serr.Msg, e.Error()), ": ")
	if msg == "" {
		return errors.Wrapf(e, "status %d", serr.Code)
	}
	return errors.Wrapf(e, "status %d: %s", serr.Code, msg)
}
