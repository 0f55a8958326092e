// Package receivertest provides an in-process fake of the analytics receiver
// for testing code that ships records over HTTP.
//
// The fake speaks both wire endpoints: the batch endpoint (optionally gzip
// compressed JSON arrays) and the form-encoded debug endpoint. Replies can be
// scripted per test to simulate rejections and outages.
//
//	rcv := receivertest.New()
//	defer rcv.Close()
//
//	c, _ := batch.New(batch.Config{ServerURL: rcv.URL(), AppID: "app"})
//	...
//	records := rcv.Records()
package receivertest

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/klauspost/compress/gzip"

	"github.com/nicktill/tinyevents/pkg/event"
)

// Batch is one request received on the batch endpoint.
type Batch struct {
	AppID      string
	Compressed bool
	Header     http.Header
	Records    []*event.Record
}

// DebugRequest is one request received on the debug endpoint.
type DebugRequest struct {
	AppID  string
	Source string
	DryRun bool
	Data   string
	Record *event.Record
}

// Receiver is a scriptable fake receiver backed by httptest.Server.
type Receiver struct {
	server *httptest.Server

	mu         sync.Mutex
	batches    []Batch
	debug      []DebugRequest
	status     int
	code       int
	msg        string
	errorLevel int
	delay      time.Duration
}

// New starts a receiver that accepts everything.
func New() *Receiver {
	r := &Receiver{status: http.StatusOK}
	r.server = httptest.NewServer(r.Handler())
	return r
}

// Handler returns the receiver's router.
func (r *Receiver) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/sync_server", r.handleBatch).Methods(http.MethodPost)
	router.HandleFunc("/data_debug", r.handleDebug).Methods(http.MethodPost)
	return router
}

// URL returns the base URL to configure senders with.
func (r *Receiver) URL() string {
	return r.server.URL
}

// Close shuts the server down.
func (r *Receiver) Close() {
	r.server.Close()
}

// ReplyStatus makes every following request answer with an HTTP status.
func (r *Receiver) ReplyStatus(status int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = status
}

// RejectWith makes the batch endpoint answer with a nonzero result code.
func (r *Receiver) RejectWith(code int, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.code = code
	r.msg = msg
}

// DebugErrorLevel sets the errorLevel the debug endpoint replies with.
func (r *Receiver) DebugErrorLevel(level int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errorLevel = level
}

// Delay holds every reply for d.
func (r *Receiver) Delay(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delay = d
}

// Batches returns the batch requests received so far.
func (r *Receiver) Batches() []Batch {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Batch, len(r.batches))
	copy(out, r.batches)
	return out
}

// Records returns every record received on the batch endpoint, in order.
func (r *Receiver) Records() []*event.Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*event.Record
	for _, b := range r.batches {
		out = append(out, b.Records...)
	}
	return out
}

// DebugRequests returns the debug requests received so far.
func (r *Receiver) DebugRequests() []DebugRequest {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]DebugRequest, len(r.debug))
	copy(out, r.debug)
	return out
}

func (r *Receiver) handleBatch(w http.ResponseWriter, req *http.Request) {
	compressed := req.Header.Get("compress") == "gzip"

	var body io.Reader = req.Body
	if compressed {
		zr, err := gzip.NewReader(req.Body)
		if err != nil {
			respondJSON(w, http.StatusOK, map[string]any{"code": -1, "msg": fmt.Sprintf("invalid gzip body: %v", err)})
			return
		}
		defer zr.Close()
		body = zr
	}

	var records []*event.Record
	if err := json.NewDecoder(body).Decode(&records); err != nil {
		respondJSON(w, http.StatusOK, map[string]any{"code": -1, "msg": fmt.Sprintf("invalid data format: %v", err)})
		return
	}

	r.mu.Lock()
	r.batches = append(r.batches, Batch{
		AppID:      req.Header.Get("appid"),
		Compressed: compressed,
		Header:     req.Header.Clone(),
		Records:    records,
	})
	status, code, msg, delay := r.status, r.code, r.msg, r.delay
	r.mu.Unlock()

	time.Sleep(delay)
	if status != http.StatusOK {
		http.Error(w, http.StatusText(status), status)
		return
	}
	resp := map[string]any{"code": code}
	if msg != "" {
		resp["msg"] = msg
	}
	respondJSON(w, http.StatusOK, resp)
}

func (r *Receiver) handleDebug(w http.ResponseWriter, req *http.Request) {
	if err := req.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	dr := DebugRequest{
		AppID:  req.PostForm.Get("appid"),
		Source: req.PostForm.Get("source"),
		DryRun: req.PostForm.Get("dryRun") == "1",
		Data:   req.PostForm.Get("data"),
	}
	rec, err := event.Decode([]byte(dr.Data))
	if err != nil {
		respondJSON(w, http.StatusOK, map[string]any{"errorLevel": 2, "errorReasons": err.Error()})
		return
	}
	dr.Record = rec

	r.mu.Lock()
	r.debug = append(r.debug, dr)
	status, level, delay := r.status, r.errorLevel, r.delay
	r.mu.Unlock()

	time.Sleep(delay)
	if status != http.StatusOK {
		http.Error(w, http.StatusText(status), status)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"errorLevel": level})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Failed to encode JSON response: %v", err)
	}
}
