// Package httpapi wires every component into the HTTP surface of §6:
// a thin struct around http.ServeMux exposing HandleFunc/ServeHTTP,
// exactly the teacher's pkg/webserver.Server shape, generalized with
// request-id stamping, access logging into pkg/logging's Access sink,
// and error-to-status mapping via pkg/apperr. Individual handlers are
// thin composition over pkg/upload, pkg/download, pkg/archive,
// pkg/store, pkg/quota, pkg/notify, pkg/p2p, and pkg/relay — no
// handler here re-implements pipeline logic those packages already
// own.
package httpapi

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"ephemera/internal/logging"
	"ephemera/pkg/apperr"
	"ephemera/pkg/archive"
	"ephemera/pkg/blobstore"
	"ephemera/pkg/download"
	"ephemera/pkg/notify"
	"ephemera/pkg/p2p"
	"ephemera/pkg/quota"
	"ephemera/pkg/relay"
	"ephemera/pkg/store"
	"ephemera/pkg/upload"
)

// Deps collects every subsystem a Server composes. The logger bundle
// is not part of Deps; it is passed to New separately.
type Deps struct {
	Upload  *upload.Pipeline
	Store   *store.Store
	Quota   *quota.Accountant
	Bus     *notify.Bus
	Archive *archive.Service
	P2P     *p2p.Manager
	Relay   *relay.Manager
	Blobs   *blobstore.Store

	AuthSecret []byte // authorize.secret, the HS256 key; requests without an Authorization header skip verification
	Version    string
}

// Server is the HTTP entry point: a mux plus the cross-cutting
// concerns (request id, access log, panic recovery, error mapping)
// every handler shares.
type Server struct {
	mux  *http.ServeMux
	deps Deps
	logs *logging.Loggers

	mu   sync.Mutex
	reqs int64
}

func New(deps Deps, logs *logging.Loggers) *Server {
	s := &Server{mux: http.NewServeMux(), deps: deps, logs: logs}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/version", s.handleVersion)

	s.mux.HandleFunc("POST /api/upload", s.handleUpload)
	s.mux.HandleFunc("HEAD /api/upload/preflight", s.handlePreflight)
	s.mux.HandleFunc("POST /api/upload/multipart/start-session", s.handleStartSession)
	s.mux.HandleFunc("PUT /api/upload/multipart/{id}", s.handleAppendPart)
	s.mux.HandleFunc("POST /api/upload/multipart/concatenate", s.handleConcatenate)
	s.mux.HandleFunc("DELETE /api/upload/multipart/cancel", s.handleCancelSession)

	s.mux.HandleFunc("GET /api/file/list", s.handleFileList)
	s.mux.HandleFunc("GET /api/file/{id}", s.handleFileGet)
	s.mux.HandleFunc("HEAD /api/file/{id}", s.handleFileGet)
	s.mux.HandleFunc("GET /api/file/{id}/metadata", s.handleFileMetadata)
	s.mux.HandleFunc("DELETE /api/file/{id}", s.handleFileDelete)
	s.mux.HandleFunc("POST /api/file/text-collection", s.handleTextCollection)

	s.mux.HandleFunc("GET /api/directory/{id}", s.handleDirectoryList)
	s.mux.HandleFunc("GET /api/directory/{id}/{path...}", s.handleDirectoryEntry)
	s.mux.HandleFunc("HEAD /api/directory/{id}/{path...}", s.handleDirectoryEntry)

	s.mux.HandleFunc("GET /api/notify", s.handleNotify)
	s.mux.HandleFunc("GET /api/sse/connections", s.handleConnections)
	s.mux.HandleFunc("GET /api/stats", s.handleStats)

	s.mux.HandleFunc("POST /api/p2p/create", s.handleP2PCreate)
	s.mux.HandleFunc("POST /api/p2p/accept", s.handleP2PAccept)
	s.mux.HandleFunc("POST /api/p2p/signaling", s.handleP2PSignaling)
	s.mux.HandleFunc("POST /api/p2p/downgrade", s.handleP2PDowngrade)
	s.mux.HandleFunc("DELETE /api/p2p/discard", s.handleP2PDiscard)
	s.mux.HandleFunc("GET /api/p2p/relay", s.handleRelay)
}

// ServeHTTP stamps a request id, tracks the response for access
// logging, and recovers panics into a 500 — the generalization of the
// teacher's webserver.Server.ServeHTTP verbose-logging wrapper.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := uuid.New().String()
	w.Header().Set("X-Request-Id", reqID)

	n := atomic.AddInt64(&s.reqs, 1)
	start := time.Now()
	tw := &trackResponseWriter{ResponseWriter: w}

	defer func() {
		if rec := recover(); rec != nil {
			tw.WriteHeader(http.StatusInternalServerError)
			if s.logs != nil {
				s.logs.Process.Errorw("panic in handler", "request_id", reqID, "panic", rec)
			}
		}
		if s.logs != nil {
			s.logs.Access.Infow("request",
				"request_id", reqID, "seq", n, "method", r.Method, "path", r.URL.Path,
				"status", tw.code, "bytes", tw.size, "duration_ms", time.Since(start).Milliseconds(),
				"remote", clientIP(r))
		}
	}()

	s.mux.ServeHTTP(tw, r)
}

type trackResponseWriter struct {
	http.ResponseWriter
	code int
	size int64
}

func (tw *trackResponseWriter) WriteHeader(code int) {
	if tw.code != 0 {
		return
	}
	tw.code = code
	tw.ResponseWriter.WriteHeader(code)
}

func (tw *trackResponseWriter) Write(p []byte) (int, error) {
	if tw.code == 0 {
		tw.code = http.StatusOK
	}
	n, err := tw.ResponseWriter.Write(p)
	tw.size += int64(n)
	return n, err
}

func (tw *trackResponseWriter) Flush() {
	if f, ok := tw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (tw *trackResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := tw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("httpapi: underlying ResponseWriter does not support hijacking")
	}
	return hj.Hijack()
}

// writeError maps err to its canonical status via pkg/apperr, setting
// Location for a dedup Conflict per §6.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := apperr.StatusOf(err)
	body := http.StatusText(status)
	if e, ok := apperr.As(err); ok {
		if e.Kind == apperr.KindConflict && e.ConflictID != "" {
			w.Header().Set("Location", e.ConflictID)
		}
		body = e.Body()
	}
	http.Error(w, body, status)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// identify resolves the caller's owner id (bearer JWT subject, empty
// for the public scope), device id (device_id cookie), and source ip
// (X-Forwarded-For, X-Real-IP, else RemoteAddr) per §6's consumed
// request headers.
func (s *Server) identify(r *http.Request) (ownerID, deviceID, ip string, err error) {
	ownerID, err = verifyBearer(r.Header.Get("Authorization"), s.deps.AuthSecret)
	if err != nil {
		return "", "", "", err
	}
	if c, cerr := r.Cookie("device_id"); cerr == nil {
		deviceID = c.Value
	}
	return ownerID, deviceID, clientIP(r), nil
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	if xr := r.Header.Get("X-Real-IP"); xr != "" {
		return xr
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func intPtr(s string) (*int, error) {
	if s == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, apperr.BadRequest("invalid integer query parameter")
	}
	return &n, nil
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// --- health / version -------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "ephemera_%s", s.deps.Version)
}

// --- upload -------------------------------------------------------------

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ownerID, deviceID, ip, err := s.identify(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	q := r.URL.Query()
	req := upload.Request{
		OwnerID: ownerID, DeviceID: deviceID, IP: ip,
		Filename:     q.Get("filename"),
		DeclaredMIME: r.Header.Get("Content-Type"),
		DeclaredHash: q.Get("hash"),
		DeclaredSize: r.ContentLength,
		Tags:         splitTags(q.Get("tags")),
		Caption:      q.Get("caption"),
		Body:         r.Body,
	}
	id, err := s.deps.Upload.Single(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handlePreflight(w http.ResponseWriter, r *http.Request) {
	ownerID, _, _, err := s.identify(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	q := r.URL.Query()
	size, _ := strconv.ParseInt(q.Get("size"), 10, 64)
	_, err = s.deps.Upload.Preflight(r.Context(), ownerID, size, q.Get("hash"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	ownerID, deviceID, ip, err := s.identify(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	q := r.URL.Query()
	size, _ := strconv.ParseInt(q.Get("size"), 10, 64)
	sessionID, err := s.deps.Upload.StartSession(r.Context(), ownerID, deviceID, ip, size, q.Get("hash"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "%s;0", sessionID)
}

func (s *Server) handleAppendPart(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	start, _ := strconv.ParseInt(r.URL.Query().Get("start"), 10, 64)
	if err := s.deps.Upload.AppendPart(id, start, r.Body); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleConcatenate finalizes a multipart session. The session id
// travels as a query parameter (session_id) alongside the other
// finalize arguments, since §6's endpoint table gives this route no
// {id} path segment — an implementation decision recorded in
// DESIGN.md.
func (s *Server) handleConcatenate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	args := upload.FinalizeArgs{
		Filename: q.Get("filename"),
		MIME:     q.Get("mimetype"),
		Tags:     splitTags(q.Get("tags")),
		Caption:  q.Get("caption"),
	}
	id, err := s.deps.Upload.Finalize(r.Context(), q.Get("session_id"), args)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Upload.Cancel(r.URL.Query().Get("session_id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- file list / get / metadata / delete --------------------------------

type fileListItem struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Hash      string   `json:"hash"`
	Size      int64    `json:"size"`
	MIME      string   `json:"mime"`
	Tags      []string `json:"tags,omitempty"`
	CreatedAt int64    `json:"createdAt"`
	Cursor    string   `json:"cursor"`
}

type fileListResponse struct {
	Items      []fileListItem `json:"items"`
	HasNext    bool           `json:"hasNext"`
	HasPrev    bool           `json:"hasPrev"`
	TotalCount uint32         `json:"totalCount"`
}

func (s *Server) handleFileList(w http.ResponseWriter, r *http.Request) {
	ownerID, _, _, err := s.identify(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	q := r.URL.Query()
	first, err := intPtr(q.Get("first"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	last, err := intPtr(q.Get("last"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	pager := store.Pager{First: first, Last: last, After: strPtr(q.Get("after")), Before: strPtr(q.Get("before"))}
	filter := store.ListFilter{OwnerID: ownerID, DeviceID: q.Get("group")}

	records, hasNext, hasPrev, err := s.deps.Store.List(r.Context(), filter, pager)
	if err != nil {
		s.writeError(w, err)
		return
	}
	total, err := s.deps.Store.Count(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}

	items := make([]fileListItem, 0, len(records))
	for _, rec := range records {
		cursor, cerr := store.EncodeCursor(rec.ID, rec.CreatedAt)
		if cerr != nil {
			s.writeError(w, cerr)
			return
		}
		items = append(items, fileListItem{
			ID: rec.ID, Name: rec.Name, Hash: rec.Hash, Size: rec.Size, MIME: rec.MIME,
			Tags: rec.Tags, CreatedAt: rec.CreatedAt, Cursor: cursor,
		})
	}
	writeJSON(w, http.StatusOK, fileListResponse{Items: items, HasNext: hasNext, HasPrev: hasPrev, TotalCount: total})
}

func (s *Server) handleFileGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	cd, err := s.deps.Store.GetContentDescriptor(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	path := s.deps.Blobs.ContentPath(cd.ID, cd.Ext)
	size := cd.Size
	if r.URL.Query().Get("thumbnail-prefer") == "1" {
		thumbPath := s.deps.Blobs.ThumbnailPath(cd.ID, cd.Ext)
		if thumbSize, _, statErr := blobstore.Stat(thumbPath); statErr == nil {
			path, size = thumbPath, thumbSize
		}
	}
	_, mtime, err := blobstore.Stat(path)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resource := download.Resource{
		Path: path, Size: size, Hash: cd.Hash, MIME: cd.MIME, DisplayName: cd.Name,
		ModTime: time.Unix(mtime, 0),
	}
	opts := download.Options{RangeHeader: r.Header.Get("Range"), Raw: r.URL.Query().Get("raw") == "1"}
	if err := download.Serve(w, resource, opts, r.Method == http.MethodHead); err != nil {
		s.writeError(w, err)
	}
}

type fileMetadataResponse struct {
	ID        string   `json:"id"`
	OwnerID   string   `json:"ownerId,omitempty"`
	DeviceID  string   `json:"deviceId,omitempty"`
	Name      string   `json:"name"`
	Hash      string   `json:"hash"`
	Size      int64    `json:"size"`
	MIME      string   `json:"mime"`
	IP        string   `json:"ip,omitempty"`
	Caption   string   `json:"caption,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	Encrypted bool     `json:"encrypted"`
	Pinned    bool     `json:"pinned"`
	CreatedAt int64    `json:"createdAt"`
	UpdatedAt int64    `json:"updatedAt"`
}

func (s *Server) handleFileMetadata(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fileMetadataResponse{
		ID: rec.ID, OwnerID: rec.OwnerID, DeviceID: rec.DeviceID, Name: rec.Name, Hash: rec.Hash,
		Size: rec.Size, MIME: rec.MIME, IP: rec.IP, Caption: rec.Caption, Tags: rec.Tags,
		Encrypted: rec.Encrypted, Pinned: rec.Pinned, CreatedAt: rec.CreatedAt, UpdatedAt: rec.UpdatedAt,
	})
}

func (s *Server) handleFileDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := s.deps.Store.Get(r.Context(), id)
	if err != nil {
		if e, ok := apperr.As(err); ok && e.Kind == apperr.KindNotFound {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		s.writeError(w, err)
		return
	}
	ownerID, size, ok, err := s.deps.Store.Delete(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := s.deps.Blobs.Remove(rec.ID, rec.Ext); err != nil {
		s.writeError(w, err)
		return
	}
	s.deps.Quota.OnDelete(ownerID, size)
	s.deps.Bus.Broadcast(notify.All(), notify.Event{Type: "RECORD_REMOVED", Payload: id})
	w.WriteHeader(http.StatusNoContent)
}

type textCollectionRequest struct {
	UUIDs []string `json:"uuids"`
}

// handleTextCollection implements §9's frozen open question: bare
// concatenation with an X-Collection-Lengths response header so
// clients can re-split.
func (s *Server) handleTextCollection(w http.ResponseWriter, r *http.Request) {
	var req textCollectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apperr.BadRequest("malformed request body"))
		return
	}

	type piece struct {
		path string
		size int64
	}
	pieces := make([]piece, 0, len(req.UUIDs))
	for _, id := range req.UUIDs {
		cd, err := s.deps.Store.GetContentDescriptor(r.Context(), id)
		if err != nil {
			s.writeError(w, err)
			return
		}
		pieces = append(pieces, piece{path: s.deps.Blobs.ContentPath(cd.ID, cd.Ext), size: cd.Size})
	}

	lengths := make([]string, len(pieces))
	for i, p := range pieces {
		lengths[i] = strconv.FormatInt(p.size, 10)
	}
	w.Header().Set("X-Collection-Lengths", strings.Join(lengths, ","))
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	for _, p := range pieces {
		f, err := blobstore.OpenRead(p.path)
		if err != nil {
			return // headers already sent; best effort from here
		}
		io.Copy(w, f)
		f.Close()
	}
}

// --- archive --------------------------------------------------------------

func (s *Server) handleDirectoryList(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deps.Archive.ListEntries(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleDirectoryEntry(w http.ResponseWriter, r *http.Request) {
	resource, err := s.deps.Archive.GetEntry(r.PathValue("id"), r.PathValue("path"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	opts := download.Options{RangeHeader: r.Header.Get("Range"), Raw: r.URL.Query().Get("raw") == "1"}
	if err := download.Serve(w, resource, opts, r.Method == http.MethodHead); err != nil {
		s.writeError(w, err)
	}
}

// --- notifications ----------------------------------------------------------

const ssePingInterval = 15 * time.Second

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, apperr.New(apperr.KindInternal, "streaming unsupported"))
		return
	}

	resumeToken := ""
	if c, err := r.Cookie("resume_secret"); err == nil {
		if tok, derr := s.deps.Bus.DecodeResumeSecret(c.Value); derr == nil {
			resumeToken = tok
		}
	}

	events, id, pin, newToken := s.deps.Bus.Connect(resumeToken)
	cookieValue, err := s.deps.Bus.EncodeResumeSecret(newToken)
	if err != nil {
		s.writeError(w, err)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: "resume_secret", Value: cookieValue, Path: "/", HttpOnly: true})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeEvent(w, notify.Event{Type: "CLIENT_ID", Payload: map[string]string{"id": id, "pin": pin}})
	flusher.Flush()

	ticker := time.NewTicker(ssePingInterval)
	defer ticker.Stop()
	defer s.deps.Bus.Disconnect(id, newToken)

	s.deps.Bus.Broadcast(notify.Except(id), notify.Event{Type: "USER_CONNECTED", Payload: id})

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			writeEvent(w, ev)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprint(w, ":ping\n\n")
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, ev notify.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Bus.ActiveConnections())
}

type statsResponse struct {
	Committed      int64  `json:"committed"`
	Reserved       int64  `json:"reserved"`
	Quota          int64  `json:"quota"`
	CommittedHuman string `json:"committedHuman"`
	ReservedHuman  string `json:"reservedHuman"`
	QuotaHuman     string `json:"quotaHuman"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ownerID, _, _, err := s.identify(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	committed, reserved := s.deps.Quota.Snapshot(ownerID)
	writeJSON(w, http.StatusOK, statsResponse{
		Committed: committed, Reserved: reserved, Quota: s.deps.Quota.Quota(),
		CommittedHuman: humanize.Bytes(uint64(committed)),
		ReservedHuman:  humanize.Bytes(uint64(reserved)),
		QuotaHuman:     humanize.Bytes(uint64(s.deps.Quota.Quota())),
	})
}

// --- P2P --------------------------------------------------------------------

type p2pCreateRequest struct {
	ClientID    string `json:"client_id"`
	TargetPIN   string `json:"target_pin"`
	SupportsRTC bool   `json:"supports_rtc"`
	Priority    string `json:"priority"`
}

func (s *Server) handleP2PCreate(w http.ResponseWriter, r *http.Request) {
	var req p2pCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apperr.BadRequest("malformed request body"))
		return
	}
	requestID, err := s.deps.P2P.CreateRequest(req.ClientID, req.TargetPIN, req.SupportsRTC, p2p.Priority(req.Priority))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"request_id": requestID})
}

type p2pAcceptRequest struct {
	ClientID    string `json:"client_id"`
	RequestID   string `json:"request_id"`
	SupportsRTC bool   `json:"supports_rtc"`
}

func (s *Server) handleP2PAccept(w http.ResponseWriter, r *http.Request) {
	var req p2pAcceptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apperr.BadRequest("malformed request body"))
		return
	}
	if err := s.deps.P2P.AcceptRequest(req.RequestID, req.ClientID, req.SupportsRTC); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type p2pSignalingRequest struct {
	ClientID  string      `json:"client_id"`
	RequestID string      `json:"request_id"`
	Payload   interface{} `json:"payload"`
}

func (s *Server) handleP2PSignaling(w http.ResponseWriter, r *http.Request) {
	var req p2pSignalingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apperr.BadRequest("malformed request body"))
		return
	}
	if err := s.deps.P2P.Signaling(req.RequestID, req.ClientID, req.Payload); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type p2pDowngradeRequest struct {
	ClientID  string `json:"client_id"`
	RequestID string `json:"request_id"`
}

func (s *Server) handleP2PDowngrade(w http.ResponseWriter, r *http.Request) {
	var req p2pDowngradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apperr.BadRequest("malformed request body"))
		return
	}
	if err := s.deps.P2P.Downgrade(req.RequestID, req.ClientID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleP2PDiscard(w http.ResponseWriter, r *http.Request) {
	var req p2pDowngradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apperr.BadRequest("malformed request body"))
		return
	}
	if err := s.deps.P2P.DiscardRequest(req.RequestID, req.ClientID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

var relayUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	conn, err := relayUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return // Upgrade already wrote the error response
	}
	s.deps.Relay.Handle(conn)
}
