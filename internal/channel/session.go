// Package channel implements the session-channel wire boundary: a
// gorilla/websocket connection per client, HMAC-authenticated join, topic
// subscription, and the document-mutation/sync message handlers.
package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Ap3pp3rs94/docsync/internal/changelog"
	"github.com/Ap3pp3rs94/docsync/internal/docstore"
	"github.com/Ap3pp3rs94/docsync/internal/errcodes"
	"github.com/Ap3pp3rs94/docsync/internal/hmacauth"
	"github.com/Ap3pp3rs94/docsync/internal/ot"
	"github.com/Ap3pp3rs94/docsync/internal/patch"
	"github.com/Ap3pp3rs94/docsync/internal/telemetry"
	"github.com/Ap3pp3rs94/docsync/internal/users"
	"github.com/Ap3pp3rs94/docsync/internal/wire"
	"github.com/google/uuid"
)

const (
	outboundBuffer = 64
	writeTimeout   = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
)

// Deps are the components a Session dispatches into.
type Deps struct {
	Hub       *Hub
	Verifier  *hmacauth.Verifier
	Users     *users.Directory
	Documents *docstore.Store
	Changes   *changelog.Reader
	Log       *telemetry.Logger
}

// Session is one client's persistent connection. Reads happen on a single
// goroutine that dispatches requests synchronously, guaranteeing FIFO
// reply order; writes (both direct replies and fanned-out broadcasts)
// happen on a second goroutine draining outbound, so there is never more
// than one concurrent writer on the underlying connection.
type Session struct {
	conn      *websocket.Conn
	deps      Deps
	outbound  chan []byte
	closeOnce chan struct{}

	sessionID uuid.UUID
	topic     string
	userID    uuid.UUID
	email     string
	joined    bool
}

// Serve runs a session to completion: it blocks until the connection
// closes. The context is checked between inbound messages, so a cancelled
// context ends the session once the next message has been handled.
func Serve(ctx context.Context, conn *websocket.Conn, deps Deps) {
	sess := &Session{
		conn:      conn,
		deps:      deps,
		outbound:  make(chan []byte, outboundBuffer),
		closeOnce: make(chan struct{}),
		sessionID: uuid.New(),
	}

	go sess.writePump()
	sess.readPump(telemetry.WithSessionID(ctx, sess.sessionID.String()))
}

// trySend is the non-blocking path used for broadcast fan-out: a full
// buffer means the subscriber is behind, and the message is dropped rather
// than stalling the publisher.
func (s *Session) trySend(message []byte) {
	select {
	case s.outbound <- message:
	default:
	}
}

// sendReply enqueues a direct reply. Unlike trySend this blocks until
// there is room, since a dropped reply would leave the client's request
// unanswered; a session wedged long enough to fill its buffer is killed by
// the write pump's write-timeout instead.
func (s *Session) sendReply(reply wire.Reply) {
	b, err := json.Marshal(reply)
	if err != nil {
		return
	}
	select {
	case s.outbound <- b:
	case <-s.closeOnce:
	}
}

// replyError sends an error reply for code, merging any extra payload
// fields (e.g. conflict's existing_id, version_mismatch's current state),
// and logs the outcome using code's registered CodeMeta — server-kind
// codes (a transactional failure) log at Error, everything else (a client
// mistake, an auth rejection, a legitimate conflict) logs at Warn, matching
// the severity a human operator would actually want paged on.
func (s *Session) replyError(ctx context.Context, req wire.Request, code errcodes.Code, message string, extra map[string]any) {
	payload := map[string]any{"error": string(code)}
	if message != "" {
		payload["message"] = message
	}
	for k, v := range extra {
		payload[k] = v
	}
	s.sendReply(wire.Err(req.Ref, payload))

	meta, known := errcodes.Meta(code)
	fields := map[string]any{"op": req.Op, "code": string(code)}
	if known {
		fields["http_status"] = meta.HTTPStatus
		fields["retryable"] = meta.Retryable
	}
	if known && meta.Kind == "server" {
		s.deps.Log.Error(ctx, "request failed", fields)
		return
	}
	s.deps.Log.Warn(ctx, "request failed", fields)
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-s.outbound:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.closeOnce:
			return
		}
	}
}

func (s *Session) readPump(ctx context.Context) {
	defer s.die()

	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		var req wire.Request
		if err := json.Unmarshal(raw, &req); err != nil {
			continue
		}
		ctx = s.dispatch(ctx, req)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// die tears the session down: it is removed from every topic it joined and
// its write pump is signalled to stop. Any broadcasts still queued in
// outbound are dropped with it.
func (s *Session) die() {
	select {
	case <-s.closeOnce:
	default:
		close(s.closeOnce)
	}
	s.deps.Hub.Leave(s)
}

// dispatch routes req to its handler and returns the context subsequent
// calls should use — enriched with user_id/topic once join succeeds, so
// every log line for the rest of the session carries them.
func (s *Session) dispatch(ctx context.Context, req wire.Request) context.Context {
	if req.Op == "join" {
		return s.handleJoin(ctx, req)
	}
	if !s.joined {
		s.sendReply(wire.Err(req.Ref, wire.ErrorPayload{Error: "not_joined", Message: "join before issuing other operations"}))
		return ctx
	}

	switch req.Op {
	case "create_document":
		s.handleCreateDocument(ctx, req)
	case "update_document":
		s.handleUpdateDocument(ctx, req)
	case "delete_document":
		s.handleDeleteDocument(ctx, req)
	case "request_full_sync":
		s.handleRequestFullSync(ctx, req)
	case "get_changes_since":
		s.handleGetChangesSince(ctx, req)
	case "transform_operations":
		s.handleTransformOperations(req)
	default:
		s.sendReply(wire.Err(req.Ref, wire.ErrorPayload{Error: "unknown_op", Message: fmt.Sprintf("unknown operation %q", req.Op)}))
	}
	return ctx
}

type joinPayload struct {
	Topic     string `json:"topic"`
	Email     string `json:"email"`
	APIKey    string `json:"api_key"`
	Signature string `json:"signature"`
	Timestamp string `json:"timestamp"`
}

func (s *Session) handleJoin(ctx context.Context, req wire.Request) context.Context {
	var p joinPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		s.replyError(ctx, req, errcodes.MissingParams, "join payload must be an object", nil)
		return ctx
	}

	cred, err := s.deps.Verifier.Verify(ctx, p.Email, p.APIKey, p.Timestamp, p.Signature, "")
	if err != nil {
		if ae, ok := hmacauth.AsAuthError(err); ok {
			s.replyError(ctx, req, ae.Code, ae.Msg, nil)
			return ctx
		}
		s.replyError(ctx, req, errcodes.Internal, "join failed", nil)
		return ctx
	}
	_ = cred

	user, err := s.deps.Users.GetOrCreate(ctx, p.Email)
	if err != nil {
		s.replyError(ctx, req, errcodes.Internal, "failed to resolve user", nil)
		return ctx
	}

	s.userID = user.ID
	s.email = user.Email
	s.joined = true
	ctx = telemetry.WithUserID(ctx, user.ID.String())
	if p.Topic != "" {
		s.topic = p.Topic
		s.deps.Hub.Join(s.topic, s)
		ctx = telemetry.WithTopic(ctx, s.topic)
	}

	s.deps.Log.Info(ctx, "session joined", map[string]any{"user_id": user.ID.String(), "topic": s.topic})
	s.sendReply(wire.OK(req.Ref, map[string]any{"user_id": user.ID.String()}))
	return ctx
}

type createDocumentPayload struct {
	ID      string          `json:"id"`
	Content json.RawMessage `json:"content"`
}

func (s *Session) handleCreateDocument(ctx context.Context, req wire.Request) {
	var p createDocumentPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		s.replyError(ctx, req, errcodes.InvalidPatch, "malformed request", nil)
		return
	}
	id, err := uuid.Parse(p.ID)
	if err != nil {
		s.replyError(ctx, req, errcodes.InvalidPatch, "id must be a UUID", nil)
		return
	}
	var content any
	if err := json.Unmarshal(p.Content, &content); err != nil {
		s.replyError(ctx, req, errcodes.InvalidPatch, "content must be JSON", nil)
		return
	}

	doc, err := s.deps.Documents.Create(ctx, s.userID, id, content)
	if err != nil {
		var ce *docstore.ConflictError
		if asErrorTarget(err, &ce) {
			s.replyError(ctx, req, errcodes.Conflict, "", map[string]any{
				"existing_id": ce.Existing.ID.String(), "sync_revision": ce.Existing.SyncRevision,
			})
			return
		}
		s.replyError(ctx, req, errcodes.InsertFailed, err.Error(), nil)
		return
	}

	s.sendReply(wire.OK(req.Ref, map[string]any{
		"document_id": doc.ID.String(), "sync_revision": doc.SyncRevision, "content_hash": doc.ContentHash,
	}))

	s.broadcast("document_created", map[string]any{
		"id": doc.ID.String(), "content": doc.Content, "sync_revision": doc.SyncRevision, "content_hash": doc.ContentHash,
	})
}

type updateDocumentPayload struct {
	DocumentID       string          `json:"document_id"`
	Patch            json.RawMessage `json:"patch"`
	ExpectedRevision int64           `json:"expected_revision"`
}

func (s *Session) handleUpdateDocument(ctx context.Context, req wire.Request) {
	var p updateDocumentPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		s.replyError(ctx, req, errcodes.InvalidPatch, "malformed request", nil)
		return
	}
	docID, err := uuid.Parse(p.DocumentID)
	if err != nil {
		s.replyError(ctx, req, errcodes.NotFound, "document_id must be a UUID", nil)
		return
	}
	normalized, err := patch.Normalize(p.Patch)
	if err != nil {
		s.replyError(ctx, req, errcodes.InvalidPatch, err.Error(), nil)
		return
	}

	doc, err := s.deps.Documents.Update(ctx, s.userID, docID, normalized, p.ExpectedRevision)
	if err != nil {
		var vm *docstore.VersionMismatchError
		if asErrorTarget(err, &vm) {
			s.replyError(ctx, req, errcodes.VersionMismatch, "", map[string]any{
				"current_revision": vm.Current.SyncRevision,
				"current_content":  vm.Current.Content, "current_hash": vm.Current.ContentHash,
			})
			return
		}
		if err == docstore.ErrNotFound {
			s.replyError(ctx, req, errcodes.NotFound, "", nil)
			return
		}
		s.replyError(ctx, req, errcodes.UpdateFailed, err.Error(), nil)
		return
	}

	s.sendReply(wire.OK(req.Ref, map[string]any{"sync_revision": doc.SyncRevision}))

	s.broadcast("document_updated", map[string]any{
		"id": doc.ID.String(), "content": doc.Content, "sync_revision": doc.SyncRevision, "content_hash": doc.ContentHash,
	})
}

type deleteDocumentPayload struct {
	DocumentID string `json:"document_id"`
}

func (s *Session) handleDeleteDocument(ctx context.Context, req wire.Request) {
	var p deleteDocumentPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		s.replyError(ctx, req, errcodes.NotFound, "malformed request", nil)
		return
	}
	docID, err := uuid.Parse(p.DocumentID)
	if err != nil {
		s.replyError(ctx, req, errcodes.NotFound, "document_id must be a UUID", nil)
		return
	}

	doc, err := s.deps.Documents.Delete(ctx, s.userID, docID)
	if err != nil {
		if err == docstore.ErrNotFound {
			s.replyError(ctx, req, errcodes.NotFound, "", nil)
			return
		}
		s.replyError(ctx, req, errcodes.DeleteFailed, err.Error(), nil)
		return
	}

	s.sendReply(wire.OK(req.Ref, map[string]any{"ok": true}))
	s.broadcast("document_deleted", map[string]any{"id": doc.ID.String()})
}

func (s *Session) handleRequestFullSync(ctx context.Context, req wire.Request) {
	docs, err := s.deps.Documents.ListNonDeleted(ctx, s.userID)
	if err != nil {
		s.replyError(ctx, req, errcodes.Internal, err.Error(), nil)
		return
	}
	latest, err := s.deps.Changes.LatestSequence(ctx, s.userID)
	if err != nil {
		s.replyError(ctx, req, errcodes.Internal, err.Error(), nil)
		return
	}
	s.sendReply(wire.OK(req.Ref, map[string]any{"documents": docs, "latest_sequence": latest}))
}

type getChangesSincePayload struct {
	LastSequence int64 `json:"last_sequence"`
}

func (s *Session) handleGetChangesSince(ctx context.Context, req wire.Request) {
	var p getChangesSincePayload
	_ = json.Unmarshal(req.Payload, &p)

	events, err := s.deps.Changes.Since(ctx, s.userID, p.LastSequence, 100)
	if err != nil {
		s.replyError(ctx, req, errcodes.Internal, err.Error(), nil)
		return
	}
	latest, err := s.deps.Changes.LatestSequence(ctx, s.userID)
	if err != nil {
		s.replyError(ctx, req, errcodes.Internal, err.Error(), nil)
		return
	}
	s.sendReply(wire.OK(req.Ref, map[string]any{"events": events, "latest_sequence": latest}))
}

type transformOperationsPayload struct {
	LocalOps  []ot.Op `json:"local_ops"`
	RemoteOps []ot.Op `json:"remote_ops"`
}

func (s *Session) handleTransformOperations(req wire.Request) {
	var p transformOperationsPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		s.sendReply(wire.Err(req.Ref, wire.ErrorPayload{Error: "invalid_patch", Message: "malformed request"}))
		return
	}

	localPrime, remotePrime, err := ot.TransformList(p.LocalOps, p.RemoteOps)
	if err != nil {
		s.sendReply(wire.Err(req.Ref, err.Error()))
		return
	}

	s.sendReply(wire.OK(req.Ref, map[string]any{
		"transformed_local": localPrime, "transformed_remote": remotePrime,
	}))
}

// broadcast marshals a Broadcast envelope and fans it out to the session's
// topic, excluding itself.
func (s *Session) broadcast(event string, payload any) {
	if s.topic == "" {
		return
	}
	b, err := json.Marshal(wire.Broadcast{Event: event, Payload: payload})
	if err != nil {
		return
	}
	s.deps.Hub.Publish(s.topic, s, b)
}

// asErrorTarget reports whether err is exactly of type *T, assigning it
// into target when so. A small helper so handlers above read cleanly
// without repeating a type switch per error kind.
func asErrorTarget[T any](err error, target **T) bool {
	t, ok := err.(*T)
	if !ok {
		return false
	}
	*target = t
	return true
}
