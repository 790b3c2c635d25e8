// Package session drives one websocket connection through its lifecycle:
// resolve the room, attach to the broker, pump inbound frames, detach.
// The lifecycle is a plain linear state machine; there is no re-entry, a
// closed session is discarded and the client reconnects with a fresh one.
package session

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"jobchat/internal/pkg/chat/broker"
	"jobchat/internal/pkg/chat/crypto"
	chat "jobchat/internal/pkg/chat/domain"
)

type State int

const (
	StateResolving State = iota
	StateConnected
	StateClosed
)

// Coordinator is the broker surface a session needs.
type Coordinator interface {
	RegisterClient(ctx context.Context, roomID string, userID int32, connID string, conn broker.Conn) error
	UnregisterClient(roomID string, userID int32, connID string)
	PublishMessage(ctx context.Context, msg *chat.Message) error
	CreateRoom(ctx context.Context, userA, userB, postID int32) (string, error)
}

// frameReader is the inbound half of a websocket connection.
type frameReader interface {
	ReadMessage() (messageType int, p []byte, err error)
}

// Envelope is one inbound client frame. SenderID, ReceiverID and RoomID are
// accepted for wire compatibility but the session's own resolved identity is
// authoritative; a client cannot impersonate by spoofing envelope fields.
type Envelope struct {
	Op           string `json:"op"`
	SenderID     int32  `json:"sender_id,omitempty"`
	ReceiverID   int32  `json:"receiver_id,omitempty"`
	RoomID       string `json:"room_id,omitempty"`
	Content      string `json:"content,omitempty"`
	ClientMsgRef string `json:"client_msg_ref,omitempty"`
	Secure       bool   `json:"secure,omitempty"`
}

// Reply is the per-frame acknowledgement sent back to the client.
type Reply struct {
	Op       string `json:"op"`
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
	MsgRefID string `json:"msg_ref_id,omitempty"`
	Seq      uint64 `json:"seq,omitempty"`
}

const (
	opSendMessage = "send_message"
	opReply       = "reply"

	statusOK    = "ok"
	statusError = "error"
)

// Params identifies the user and conversation behind a session. Either RoomID
// or the (PeerID, PostID) pair must be set; Key optionally enables protected
// content.
type Params struct {
	UserID int32
	PeerID int32
	PostID int32
	RoomID string
	Key    []byte
	ConnID string
}

type Session struct {
	params Params
	coord  Coordinator
	reader frameReader
	out    broker.Conn
	log    *zap.Logger

	state  State
	roomID string
}

func New(params Params, coord Coordinator, reader frameReader, out broker.Conn, log *zap.Logger) *Session {
	return &Session{
		params: params,
		coord:  coord,
		reader: reader,
		out:    out,
		log:    log,
		state:  StateResolving,
	}
}

// RoomID is the resolved conversation id, empty until resolution succeeds.
func (s *Session) RoomID() string { return s.roomID }

func (s *Session) State() State { return s.state }

// Run walks the session to completion. It returns after the peer disconnects,
// a fatal error occurs or ctx is canceled; the caller closes the socket.
func (s *Session) Run(ctx context.Context) error {
	defer func() {
		if s.roomID != "" {
			s.coord.UnregisterClient(s.roomID, s.params.UserID, s.params.ConnID)
		}
		s.state = StateClosed
	}()

	if err := s.resolve(ctx); err != nil {
		return err
	}
	s.state = StateConnected
	return s.pump(ctx)
}

// resolve determines the room, upserts its membership rows and attaches the
// connection. Joining is idempotent; reconnects hit the same upserts.
func (s *Session) resolve(ctx context.Context) error {
	var key chat.RoomKey
	if s.params.RoomID != "" {
		parsed, err := chat.ParseRoomKey(s.params.RoomID)
		if err != nil {
			return err
		}
		if s.params.UserID != parsed.UserA && s.params.UserID != parsed.UserB {
			return chat.ErrNotAMember
		}
		key = parsed
	} else {
		key = chat.NewRoomKey(s.params.UserID, s.params.PeerID, s.params.PostID)
	}

	roomID, err := s.coord.CreateRoom(ctx, key.UserA, key.UserB, key.JobID)
	if err != nil {
		return err
	}
	if err := s.coord.RegisterClient(ctx, roomID, s.params.UserID, s.params.ConnID, s.out); err != nil {
		return err
	}
	s.roomID = roomID
	return nil
}

// pump reads frames until the connection drops. Per-frame failures answer
// with an error reply and keep the session alive; only I/O errors end it.
func (s *Session) pump(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, raw, err := s.reader.ReadMessage()
		if err != nil {
			return nil // peer went away
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			// Malformed frames are dropped; the connection stays open.
			s.log.Debug("dropping malformed frame",
				zap.String("room_id", s.roomID), zap.Error(err))
			continue
		}

		switch env.Op {
		case opSendMessage:
			s.handleSend(ctx, env)
		default:
			s.log.Debug("dropping unsupported op",
				zap.String("op", env.Op), zap.String("room_id", s.roomID))
		}
	}
}

func (s *Session) handleSend(ctx context.Context, env Envelope) {
	content := env.Content
	if env.Secure {
		if len(s.params.Key) == 0 {
			s.replyError(env.ClientMsgRef, "no_key")
			return
		}
		plain, err := crypto.Open(s.params.Key, content)
		if err != nil {
			s.replyError(env.ClientMsgRef, "bad_ciphertext")
			return
		}
		content = string(plain)
	}

	msg, err := chat.NewMessage(s.roomID, s.params.UserID, content, env.ClientMsgRef)
	if err != nil {
		s.replyError(env.ClientMsgRef, "malformed_frame")
		return
	}
	if err := s.coord.PublishMessage(ctx, msg); err != nil {
		reason := "publish_failed"
		if errors.Is(err, chat.ErrBufferFull) {
			reason = "buffer_full"
		}
		s.replyError(msg.MsgRefID, reason)
		return
	}
	s.reply(Reply{Op: opReply, Status: statusOK, MsgRefID: msg.MsgRefID, Seq: msg.Seq})
}

func (s *Session) replyError(msgRefID, reason string) {
	s.reply(Reply{Op: opReply, Status: statusError, Reason: reason, MsgRefID: msgRefID})
}

func (s *Session) reply(r Reply) {
	payload, err := json.Marshal(r)
	if err != nil {
		return
	}
	if err := s.out.Send(payload); err != nil {
		s.log.Debug("reply dropped", zap.String("room_id", s.roomID), zap.Error(err))
	}
}
