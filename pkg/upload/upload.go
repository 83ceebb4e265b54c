// Package upload implements the Upload Pipeline of §4.5: single-shot
// upload, multipart session lifecycle, and preflight. Grounded on the
// teacher's pkg/blobserver/localdisk/receive.go — the
// preallocate/stream-hash/rename-on-success shape is kept directly
// (io.MultiWriter into a streaming hash plus the destination file,
// release-on-any-error) and generalized with quota reservation,
// thumbnail generation, and metadata-store insertion around it.
package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"ephemera/pkg/apperr"
	"ephemera/pkg/blobstore"
	"ephemera/pkg/mimesniff"
	"ephemera/pkg/notify"
	"ephemera/pkg/quota"
	"ephemera/pkg/store"
	"ephemera/pkg/thumbnail"
)

// SessionTTL is the multipart crash-safety window of §4.5.2.
const SessionTTL = 5 * time.Minute

// Request carries the single-shot upload's inputs (§4.5.1).
type Request struct {
	OwnerID, DeviceID, IP string
	Filename              string
	DeclaredMIME          string
	DeclaredHash          string // optional, hex
	DeclaredSize          int64  // 0 if unknown
	Tags                  []string
	Caption               string
	Body                  io.Reader
}

// Pipeline wires the blob store, metadata store, quota accountant, and
// notification bus into the upload operations of §4.5.
type Pipeline struct {
	Blobs  *blobstore.Store
	Store  *store.Store
	Quota  *quota.Accountant
	Bus    *notify.Bus

	mu        sync.Mutex
	sessions  map[string]*multipartSession
	finalized map[string]string // sessionID -> record id, for idempotent re-finalize (§9 decision #2)
}

func New(blobs *blobstore.Store, st *store.Store, q *quota.Accountant, bus *notify.Bus) *Pipeline {
	p := &Pipeline{Blobs: blobs, Store: st, Quota: q, Bus: bus, sessions: make(map[string]*multipartSession), finalized: make(map[string]string)}
	go p.sweepLoop()
	return p
}

// Single performs the full single-shot upload procedure of §4.5.1.
func (p *Pipeline) Single(ctx context.Context, req Request) (id string, err error) {
	if req.DeclaredHash != "" {
		if existing, ok := p.Store.ExistsByHash(ctx, req.DeclaredHash, req.OwnerID); ok {
			return "", apperr.Conflict("duplicate content", existing)
		}
	}

	if err := p.Quota.Ensure(ctx, req.OwnerID, req.DeclaredSize); err != nil {
		return "", err
	}
	reservation := p.Quota.Reserve(req.OwnerID, req.DeclaredSize)

	pre, err := blobstore.Preallocate(p.Blobs.ContentPath, req.Filename, req.DeclaredSize)
	if err != nil {
		reservation.Release()
		return "", err
	}

	hasher := sha256.New()
	sniffBuf := make([]byte, 0, 4096)
	var received int64
	buf := make([]byte, 64*1024)
	for {
		n, rerr := req.Body.Read(buf)
		if n > 0 {
			if _, werr := pre.File.Write(buf[:n]); werr != nil {
				pre.Release()
				reservation.Release()
				return "", apperr.Wrap(apperr.KindIO, "write blob", werr)
			}
			hasher.Write(buf[:n])
			if len(sniffBuf) < 4096 {
				take := n
				if len(sniffBuf)+take > 4096 {
					take = 4096 - len(sniffBuf)
				}
				sniffBuf = append(sniffBuf, buf[:take]...)
			}
			received += int64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			pre.Release()
			reservation.Release()
			return "", apperr.Wrap(apperr.KindIO, "read upload body", rerr)
		}
	}

	hash := hex.EncodeToString(hasher.Sum(nil))
	if req.DeclaredHash != "" && req.DeclaredHash != hash {
		pre.Release()
		reservation.Release()
		return "", apperr.New(apperr.KindETagMismatch, "uploaded content does not match declared hash")
	}
	if req.DeclaredSize != 0 && received != req.DeclaredSize {
		pre.Release()
		reservation.Release()
		return "", apperr.IncompleteUpload(req.DeclaredSize, received)
	}

	mime := req.DeclaredMIME
	if mime == "" {
		mime = mimesniff.Guess(sniffBuf, req.Filename)
	}

	meta := store.Metadata{Kind: store.MetaNone}
	if mimesniff.IsImage(mime) {
		if res, terr := thumbnail.Generate(sniffFullFile(pre.File, sniffBuf, received)); terr == nil {
			im := &store.ImageMeta{Width: res.Width, Height: res.Height}
			if res.Generated {
				if werr := p.Blobs.WriteThumbnail(pre.ID, extOf(req.Filename), res.JPEG); werr == nil {
					tw, th := res.ThumbWidth, res.ThumbHeight
					im.ThumbWidth, im.ThumbHeight = &tw, &th
				}
			}
			meta = store.Metadata{Kind: store.MetaImage, Image: im}
		}
		// Thumbnail failures are recovered locally per §7: the upload
		// still succeeds, only dimensions/thumbnail are skipped.
	} else if mime == "application/x-tar" {
		meta = store.Metadata{Kind: store.MetaArchive, Archive: &store.ArchiveMeta{}}
	}

	if err := pre.Finalize(); err != nil {
		reservation.Release()
		return "", err
	}

	now := time.Now().Unix()
	record := &store.Record{
		ID: pre.ID, OwnerID: req.OwnerID, DeviceID: req.DeviceID, IP: req.IP,
		Name: req.Filename, Hash: hash, Size: received, MIME: mime, Ext: extOf(req.Filename),
		Caption: req.Caption, Tags: req.Tags,
		CreatedAt: now, UpdatedAt: now, Metadata: meta,
	}
	if err := p.Store.Insert(ctx, record); err != nil {
		os.Remove(pre.Path)
		reservation.Release()
		return "", err
	}
	reservation.Commit()

	p.Bus.Broadcast(notify.All(), notify.Event{Type: "RECORD_ADDED", Payload: pre.ID})
	return pre.ID, nil
}

// sniffFullFile re-reads the file from the start for thumbnail
// generation; for images this is bounded in practice (upload size
// limits apply upstream) and simpler than threading a second buffer
// through the streaming-hash loop.
func sniffFullFile(f *os.File, sniffed []byte, size int64) []byte {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return sniffed
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(f, data); err != nil {
		return sniffed
	}
	f.Seek(0, io.SeekEnd)
	return data
}

func extOf(filename string) string {
	for i := len(filename) - 1; i >= 0; i-- {
		if filename[i] == '.' {
			return filename[i+1:]
		}
		if filename[i] == '/' {
			break
		}
	}
	return ""
}

// Preflight implements §4.5.3: dedup short-circuit or quota check.
func (p *Pipeline) Preflight(ctx context.Context, ownerID string, size int64, hash string) (conflictID string, err error) {
	if hash != "" {
		if existing, ok := p.Store.ExistsByHash(ctx, hash, ownerID); ok {
			return existing, apperr.Conflict("duplicate content", existing)
		}
	}
	if err := p.Quota.Ensure(ctx, ownerID, size); err != nil {
		return "", err
	}
	return "", nil
}

// multipartSession tracks one in-progress multipart upload.
type multipartSession struct {
	mu         sync.Mutex
	id         string
	ownerID    string
	deviceID   string
	ip         string
	size       int64
	hash       string
	cursor     int64
	path       string
	reservation *quota.Reservation
	lastTouch  time.Time
}

// StartSession begins a multipart upload: dedup short-circuit, else
// allocate a staging tmp file sized to size.
func (p *Pipeline) StartSession(ctx context.Context, ownerID, deviceID, ip string, size int64, hash string) (sessionID string, err error) {
	if hash != "" {
		if existing, ok := p.Store.ExistsByHash(ctx, hash, ownerID); ok {
			return "", apperr.Conflict("duplicate content", existing)
		}
	}
	if err := p.Quota.Ensure(ctx, ownerID, size); err != nil {
		return "", err
	}
	reservation := p.Quota.Reserve(ownerID, size)

	sessionID = newSessionID()
	path := p.Blobs.StagingPath(sessionID)
	f, ferr := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if ferr != nil {
		reservation.Release()
		return "", apperr.Wrap(apperr.KindIO, "create staging file", ferr)
	}
	if size > 0 {
		if terr := f.Truncate(size); terr != nil {
			f.Close()
			os.Remove(path)
			reservation.Release()
			return "", apperr.Wrap(apperr.KindIO, "preallocate staging file", terr)
		}
	}
	f.Close()

	p.mu.Lock()
	p.sessions[sessionID] = &multipartSession{
		id: sessionID, ownerID: ownerID, deviceID: deviceID, ip: ip,
		size: size, hash: hash, path: path, reservation: reservation, lastTouch: time.Now(),
	}
	p.mu.Unlock()
	return sessionID, nil
}

// AppendPart writes body at offset start within sessionID's tmp file,
// advancing cursor per §4.5.2's idempotence rules.
func (p *Pipeline) AppendPart(sessionID string, start int64, body io.Reader) error {
	p.mu.Lock()
	s, ok := p.sessions[sessionID]
	p.mu.Unlock()
	if !ok {
		return apperr.NotFound("no such upload session")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTouch = time.Now()
	if start < s.cursor {
		io.Copy(io.Discard, body) // idempotent late retry: drain and succeed
		return nil
	}

	f, err := os.OpenFile(s.path, os.O_RDWR, 0o600)
	if err != nil {
		return apperr.Wrap(apperr.KindIO, "open staging file", err)
	}
	defer f.Close()
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return apperr.Wrap(apperr.KindIO, "seek staging file", err)
	}
	written, err := io.Copy(f, body)
	if err != nil {
		return apperr.Wrap(apperr.KindIO, "write staging file", err)
	}
	if end := start + written; end > s.cursor {
		s.cursor = end
	}
	return nil
}

// FinalizeArgs carries the metadata supplied at concatenate time.
type FinalizeArgs struct {
	Filename string
	MIME     string
	Tags     []string
	Caption  string
}

// Finalize re-hashes the tmp file, verifies against the declared hash
// if any, moves it into the blob store under the session id (§9's
// decision: reuse session id as record id), inserts metadata, commits
// the reservation, and broadcasts RECORD_ADDED.
func (p *Pipeline) Finalize(ctx context.Context, sessionID string, args FinalizeArgs) (id string, err error) {
	p.mu.Lock()
	s, ok := p.sessions[sessionID]
	if !ok {
		if existing, done := p.finalized[sessionID]; done {
			p.mu.Unlock()
			return existing, nil
		}
		p.mu.Unlock()
		return "", apperr.NotFound("no such upload session")
	}
	p.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	f, ferr := os.Open(s.path)
	if ferr != nil {
		return "", apperr.Wrap(apperr.KindIO, "open staging file for finalize", ferr)
	}
	hasher := sha256.New()
	size, herr := io.Copy(hasher, f)
	f.Close()
	if herr != nil {
		return "", apperr.Wrap(apperr.KindIO, "hash staging file", herr)
	}
	hash := hex.EncodeToString(hasher.Sum(nil))
	if s.hash != "" && s.hash != hash {
		return "", apperr.New(apperr.KindETagMismatch, "finalized content does not match declared hash")
	}

	ext := extOf(args.Filename)
	finalPath := p.Blobs.ContentPath(s.id, ext)
	if err := blobstore.ConcatenateToFinal(s.path, finalPath); err != nil {
		return "", err
	}

	mime := args.MIME
	if mime == "" {
		mime = mimesniff.Guess(nil, args.Filename)
	}
	now := time.Now().Unix()
	record := &store.Record{
		ID: s.id, OwnerID: s.ownerID, DeviceID: s.deviceID, IP: s.ip,
		Name: args.Filename, Hash: hash, Size: size, MIME: mime, Ext: ext,
		Caption: args.Caption, Tags: args.Tags,
		CreatedAt: now, UpdatedAt: now, Metadata: store.Metadata{Kind: store.MetaNone},
	}
	if err := p.Store.Insert(ctx, record); err != nil {
		os.Remove(finalPath)
		return "", err
	}
	s.reservation.Commit()

	p.mu.Lock()
	delete(p.sessions, sessionID)
	p.finalized[sessionID] = s.id
	p.mu.Unlock()

	p.Bus.Broadcast(notify.All(), notify.Event{Type: "RECORD_ADDED", Payload: s.id})
	return s.id, nil
}

// Cancel removes a session and unlinks its tmp file.
func (p *Pipeline) Cancel(sessionID string) error {
	p.mu.Lock()
	s, ok := p.sessions[sessionID]
	if ok {
		delete(p.sessions, sessionID)
	}
	p.mu.Unlock()
	if !ok {
		return apperr.NotFound("no such upload session")
	}
	s.reservation.Release()
	os.Remove(s.path)
	return nil
}

func (p *Pipeline) sweepLoop() {
	ticker := time.NewTicker(SessionTTL)
	defer ticker.Stop()
	for range ticker.C {
		p.sweepExpired()
	}
}

func (p *Pipeline) sweepExpired() {
	now := time.Now()
	p.mu.Lock()
	var expired []*multipartSession
	for id, s := range p.sessions {
		s.mu.Lock()
		if now.Sub(s.lastTouch) > SessionTTL {
			expired = append(expired, s)
			delete(p.sessions, id)
		}
		s.mu.Unlock()
	}
	p.mu.Unlock()

	for _, s := range expired {
		s.reservation.Release()
		os.Remove(s.path)
	}
}

// SweepOrphanedStaging implements §4.5.2's administrative cleanup:
// join the staging directory's files against live session ids and
// remove anything not backed by a session.
func (p *Pipeline) SweepOrphanedStaging() error {
	entries, err := os.ReadDir(p.Blobs.StagingDir())
	if err != nil {
		return apperr.Wrap(apperr.KindIO, "read staging directory", err)
	}
	p.mu.Lock()
	live := make(map[string]bool, len(p.sessions))
	for id := range p.sessions {
		live[id] = true
	}
	p.mu.Unlock()

	for _, e := range entries {
		name := e.Name()
		sessionID := name
		if len(name) > 4 && name[len(name)-4:] == ".tmp" {
			sessionID = name[:len(name)-4]
		}
		if !live[sessionID] {
			os.Remove(fmt.Sprintf("%s/%s", p.Blobs.StagingDir(), name))
		}
	}
	return nil
}

func newSessionID() string {
	return uuid.NewString()
}
