// Package server exposes a gcd.Store over HTTP.
//
// Routes:
//
//	GET  /packets                 top-level namespaces
//	POST /packet                  save a packet whose key is in the body
//	GET  /packet/:key             newest packet for key
//	POST /packet/:key             save a JSON payload for key (?timestamp=), or a multipart form
//	GET  /packet/:key/backlog     newest-first payload/timestamp pairs for key (?start=&end=)
//	GET  /packet/:key/children    child namespaces of key
//	GET  /attachment/:id          attachment bytes
//	GET  /metrics                 Prometheus metrics, if a Gatherer is given
//
// Packets travel in their exchange form (see gcd.Record),
// except in backlogs, which carry only Versions.
package server

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"mime/multipart"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/ldotlopez/gcd"
)

// MaxMemory is the number of bytes of a multipart request body
// held in memory before spilling to temporary files.
const MaxMemory = 32 << 20

// Multipart form fields.
const (
	KeyField          = "key"
	PayloadField      = "payload"
	TimestampField    = "timestamp"
	AttachmentsField  = "attachments"
	AttachmentsPrefix = "attachment:"
)

// Server is an http.Handler serving a gcd.Service,
// normally a *gcd.Store.
type Server struct {
	s       gcd.Service
	g       prometheus.Gatherer
	origins []string
	handler http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithGatherer serves the metrics in g at /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(srv *Server) {
		srv.g = g
	}
}

// WithCORS allows cross-origin requests from the given origins ("*" for any).
func WithCORS(origins []string) Option {
	return func(srv *Server) {
		srv.origins = origins
	}
}

// New produces a Server for s.
func New(s gcd.Service, opts ...Option) *Server {
	srv := &Server{s: s}
	for _, opt := range opts {
		opt(srv)
	}

	router := httprouter.New()
	router.GET("/packets", srv.handleList)
	router.POST("/packet", srv.handleSave)
	router.GET("/packet/:key", srv.handleGet)
	router.POST("/packet/:key", srv.handleSave)
	router.GET("/packet/:key/backlog", srv.handleBacklog)
	router.GET("/packet/:key/log", srv.handleBacklog)
	router.GET("/packet/:key/children", srv.handleChildren)
	router.GET("/attachment/:id", srv.handleAttachment)
	if srv.g != nil {
		router.Handler(http.MethodGet, "/metrics", promhttp.HandlerFor(srv.g, promhttp.HandlerOpts{}))
	}
	srv.handler = router

	if len(srv.origins) > 0 {
		c := cors.New(cors.Options{
			AllowedOrigins: srv.origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost},
		})
		srv.handler = c.Handler(srv.handler)
	}

	return srv
}

func (srv *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	srv.handler.ServeHTTP(w, req)
}

// ListenAndServe serves HTTP on addr until ctx is canceled.
func (srv *Server) ListenAndServe(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", addr)
	}
	return srv.Serve(ctx, lis)
}

// Serve serves HTTP on lis until ctx is canceled.
func (srv *Server) Serve(ctx context.Context, lis net.Listener) error {
	hs := &http.Server{
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := hs.Shutdown(shutdownCtx); err != nil {
				log.Printf("ERROR shutting down server: %s", err)
			}
		case <-done:
		}
	}()

	log.Printf("listening on %s", lis.Addr())

	err := hs.Serve(lis)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Version is an entry in a backlog listing.
type Version struct {
	Payload   interface{} `json:"payload"`
	Timestamp string      `json:"timestamp"`
}

// Child is an entry in a namespace listing.
type Child struct {
	Key string `json:"key"`
	URI string `json:"uri"`
}

func (srv *Server) handleList(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	srv.children(w, req, "")
}

func (srv *Server) handleChildren(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
	srv.children(w, req, ps.ByName("key"))
}

func (srv *Server) children(w http.ResponseWriter, req *http.Request, namespace string) {
	names, err := srv.s.List(req.Context(), namespace)
	if err != nil {
		httpErr(w, req, err)
		return
	}
	result := make([]Child, 0, len(names))
	for _, name := range names {
		key := name
		if namespace != "" {
			key = namespace + "." + name
		}
		result = append(result, Child{Key: key, URI: "/packet/" + key})
	}
	respond(w, req, http.StatusOK, result)
}

func (srv *Server) handleGet(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
	p, err := srv.s.Get(req.Context(), ps.ByName("key"))
	if err != nil {
		httpErr(w, req, err)
		return
	}
	respond(w, req, http.StatusOK, p.Exchange())
}

func (srv *Server) handleBacklog(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
	start, end, err := parseWindow(req)
	if err != nil {
		httpErr(w, req, err)
		return
	}
	packets, err := srv.s.Backlog(req.Context(), ps.ByName("key"), start, end)
	if err != nil {
		httpErr(w, req, err)
		return
	}
	result := make([]Version, 0, len(packets))
	for _, p := range packets {
		result = append(result, Version{
			Payload:   p.Payload,
			Timestamp: p.Timestamp.UTC().Format(gcd.TimeLayout),
		})
	}
	respond(w, req, http.StatusOK, result)
}

// parseWindow reads the optional start and end query parameters.
// End defaults to start+gcd.DefaultBacklogWindow.
func parseWindow(req *http.Request) (start, end int, err error) {
	q := req.URL.Query()
	if s := q.Get("start"); s != "" {
		start, err = strconv.Atoi(s)
		if err != nil {
			return 0, 0, errors.Wrapf(gcd.ErrInvalidRange, "start %q", s)
		}
	}
	end = start + gcd.DefaultBacklogWindow
	if s := q.Get("end"); s != "" {
		end, err = strconv.Atoi(s)
		if err != nil {
			return 0, 0, errors.Wrapf(gcd.ErrInvalidRange, "end %q", s)
		}
	}
	return start, end, nil
}

func (srv *Server) handleSave(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
	var (
		key = ps.ByName("key")
		p   *gcd.Packet
		err error
	)
	switch {
	case strings.HasPrefix(req.Header.Get("Content-Type"), "multipart/"):
		var form *multipart.Form
		p, form, err = parseMultipart(req, key)
		if form != nil {
			defer form.RemoveAll()
		}
	case key == "":
		p, err = parseRecord(req)
	default:
		p, err = parsePayload(req, key)
	}
	if err != nil {
		httpErr(w, req, err)
		return
	}
	defer closePending(p)

	saved, err := srv.s.Save(req.Context(), p)
	if err != nil {
		httpErr(w, req, err)
		return
	}
	respond(w, req, http.StatusOK, saved.Exchange())
}

// parsePayload takes the whole request body as the JSON payload for key.
// The timestamp, if any, comes from the query string.
func parsePayload(req *http.Request, key string) (*gcd.Packet, error) {
	var v interface{}
	if err := decodeBody(req, &v); err != nil {
		return nil, err
	}
	var opts []gcd.PacketOption
	if s := req.URL.Query().Get(TimestampField); s != "" {
		t, err := gcd.ParseTimestamp(s)
		if err != nil {
			return nil, err
		}
		opts = append(opts, gcd.WithTimestamp(t))
	}
	return gcd.NewPacket(key, v, opts...)
}

// parseRecord decodes a whole gcd.Record, key included, from the request body.
func parseRecord(req *http.Request) (*gcd.Packet, error) {
	var r gcd.Record
	if err := decodeBody(req, &r); err != nil {
		return nil, err
	}
	return gcd.FromExchange(r)
}

func decodeBody(req *http.Request, v interface{}) error {
	dec := json.NewDecoder(req.Body)
	if err := dec.Decode(v); err != nil {
		return errors.Wrapf(gcd.ErrInvalidPayload, "decoding request body: %s", err)
	}
	if dec.More() {
		return errors.Wrap(gcd.ErrInvalidPayload, "trailing data after JSON value in request body")
	}
	return nil
}

// parseMultipart builds a packet from a form with a JSON payload field,
// an optional timestamp field,
// an optional attachments field mapping names to already-stored references,
// and files in fields named attachment:<name>.
// The key field is used only when the path has no key.
// The caller must call RemoveAll on a non-nil form.
func parseMultipart(req *http.Request, key string) (*gcd.Packet, *multipart.Form, error) {
	if err := req.ParseMultipartForm(MaxMemory); err != nil {
		return nil, nil, errors.Wrapf(gcd.ErrInvalidPayload, "parsing multipart form: %s", err)
	}
	form := req.MultipartForm

	r := gcd.Record{Key: key}
	if key == "" {
		r.Key = req.FormValue(KeyField)
	}
	r.Timestamp = req.FormValue(TimestampField)

	payload := req.FormValue(PayloadField)
	if payload == "" {
		return nil, form, errors.Wrapf(gcd.ErrInvalidPayload, "missing %s field", PayloadField)
	}
	if err := json.Unmarshal([]byte(payload), &r.Payload); err != nil {
		return nil, form, errors.Wrapf(gcd.ErrInvalidPayload, "decoding %s field: %s", PayloadField, err)
	}
	if refs := req.FormValue(AttachmentsField); refs != "" {
		if err := json.Unmarshal([]byte(refs), &r.Attachments); err != nil {
			return nil, form, errors.Wrapf(gcd.ErrInvalidAttachment, "decoding %s field: %s", AttachmentsField, err)
		}
	}

	p, err := gcd.FromExchange(r)
	if err != nil {
		return nil, form, err
	}

	for field, headers := range form.File {
		name := strings.TrimPrefix(field, AttachmentsPrefix)
		if name == field {
			continue
		}
		if len(headers) != 1 {
			closePending(p)
			return nil, form, errors.Wrapf(gcd.ErrInvalidAttachment, "%d files for attachment %s", len(headers), name)
		}
		f, err := headers[0].Open()
		if err != nil {
			closePending(p)
			return nil, form, errors.Wrapf(err, "opening attachment %s", name)
		}
		p.Pending[name] = f
	}

	return p, form, nil
}

func closePending(p *gcd.Packet) {
	for _, r := range p.Pending {
		if c, ok := r.(io.Closer); ok {
			c.Close()
		}
	}
}

func (srv *Server) handleAttachment(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
	id, err := gcd.AIDFromHex(ps.ByName("id"))
	if err != nil {
		httpErr(w, req, err)
		return
	}
	rc, err := srv.s.OpenAttachment(req.Context(), id)
	if err != nil {
		httpErr(w, req, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("ETag", `"`+id.String()+`"`)
	if _, err = io.Copy(w, rc); err != nil {
		log.Printf("ERROR sending attachment %s: %s", id, err)
	}
}

func respond(w http.ResponseWriter, req *http.Request, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("ERROR encoding response to %s %s: %s", req.Method, req.URL.Path, err)
	}
}

// httpErr maps bad input to 400, missing keys and attachments to 404,
// and everything else to 500.
func httpErr(w http.ResponseWriter, req *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case gcd.IsInvalid(err):
		code = http.StatusBadRequest
	case gcd.IsNotFound(err):
		code = http.StatusNotFound
	default:
		log.Printf("ERROR %s %s: %s", req.Method, req.URL.Path, err)
	}
	http.Error(w, err.Error(), code)
}
