// Package broker owns the live side of the chat subsystem: the room registry,
// per-room write buffers and the bridge to the downstream pub/sub fabric.
//
// All mutable state lives inside a single goroutine (Run) that drains a
// command mailbox, so there is no lock around rooms or buffers. Slow work
// (persistence, downstream I/O) is never done in the loop; it is handed to
// worker goroutines or the task queue and its results come back as commands.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	pubsubport "jobchat/internal/infrastructure/pubsub/port"
	queueport "jobchat/internal/infrastructure/queue/port"
	"jobchat/internal/pkg/chat/application/task"
	chat "jobchat/internal/pkg/chat/domain"
	"jobchat/internal/pkg/chat/persistence/repository/port"
	"jobchat/internal/pkg/chat/presence"
)

const (
	connectTimeout = 10 * time.Second
	joinTimeout    = 10 * time.Second
	flushInterval  = 10 * time.Second
	pushTimeout    = 5 * time.Second

	presenceTopic = "chat:presence"

	eventNewMessage  = "new_message"
	eventReadReceipt = "read_receipt"
	eventPresence    = "presence"
)

func topicForRoom(roomID string) string { return "chat:room:" + roomID }

var errStopped = errors.New("broker: stopped")

// Conn is the outbound half of a client connection.
type Conn interface {
	Send(payload []byte) error
}

type member struct {
	userID int32
	conn   Conn
}

// ===================== mailbox commands =====================

type command interface{ isCommand() }

type registerCmd struct {
	roomID string
	connID string
	userID int32
	conn   Conn
	reply  chan struct{}
}

type unregisterCmd struct {
	roomID string
	connID string
	userID int32
}

type publishCmd struct {
	msg   *chat.Message
	reply chan error
}

type takeCmd struct {
	roomID string
	reply  chan []*chat.Message
}

type requeueCmd struct {
	roomID string
	msgs   []*chat.Message
}

type drainDoneCmd struct{ roomID string }

type fanoutCmd struct {
	roomID  string
	exclude int32 // user id to skip, 0 for none
	payload []byte
}

type channelJoinedCmd struct {
	roomID string
	ch     pubsubport.Channel
	err    error
}

func (registerCmd) isCommand()      {}
func (unregisterCmd) isCommand()    {}
func (publishCmd) isCommand()       {}
func (takeCmd) isCommand()          {}
func (requeueCmd) isCommand()       {}
func (drainDoneCmd) isCommand()     {}
func (fanoutCmd) isCommand()        {}
func (channelJoinedCmd) isCommand() {}

// ===================== broker =====================

// Broker coordinates sessions, buffers and the downstream fabric.
type Broker struct {
	id         string
	store      port.HistoryStore
	downstream pubsubport.Broker
	tasks      queueport.Client // nil means drains run in-process
	recon      *Reconciler
	tracker    *presence.Tracker
	log        *zap.Logger

	connected atomic.Bool
	cmds      chan command
	done      chan struct{}

	// state below is owned by the Run goroutine
	rooms    map[string]map[string]*member
	channels map[string]pubsubport.Channel
	joining  map[string]bool
	buffers  map[string]*roomBuffer
	draining map[string]bool
}

func New(store port.HistoryStore, downstream pubsubport.Broker, tasks queueport.Client, recon *Reconciler, log *zap.Logger) *Broker {
	b := &Broker{
		id:         uuid.NewString(),
		store:      store,
		downstream: downstream,
		tasks:      tasks,
		recon:      recon,
		log:        log,
		cmds:       make(chan command, 256),
		done:       make(chan struct{}),
		rooms:      make(map[string]map[string]*member),
		channels:   make(map[string]pubsubport.Channel),
		joining:    make(map[string]bool),
		buffers:    make(map[string]*roomBuffer),
		draining:   make(map[string]bool),
	}
	b.tracker = presence.NewTracker(b.onPresence)
	return b
}

// Connect dials the downstream fabric, capped at 10s. On failure the broker
// keeps serving: persistence and local fan-out work, cross-node delivery and
// presence broadcasts are degraded until a later Connect succeeds.
func (b *Broker) Connect(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := b.downstream.Connect(cctx); err != nil {
		return fmt.Errorf("%w: %v", chat.ErrDownstreamUnavailable, err)
	}
	b.connected.Store(true)
	return nil
}

// Run drains the mailbox until ctx is canceled, then makes a best-effort
// final flush of every buffer so a graceful shutdown loses nothing.
func (b *Broker) Run(ctx context.Context) {
	defer close(b.done)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.shutdown()
			return
		case <-ticker.C:
			b.flushAll()
		case cmd := <-b.cmds:
			b.handle(cmd)
		}
	}
}

func (b *Broker) handle(cmd command) {
	switch c := cmd.(type) {
	case registerCmd:
		b.handleRegister(c)
	case unregisterCmd:
		b.handleUnregister(c)
	case publishCmd:
		c.reply <- b.handlePublish(c.msg)
	case takeCmd:
		c.reply <- b.handleTake(c.roomID)
	case requeueCmd:
		b.buffer(c.roomID).requeue(c.msgs)
	case drainDoneCmd:
		delete(b.draining, c.roomID)
	case fanoutCmd:
		b.fanout(c.roomID, c.exclude, c.payload)
	case channelJoinedCmd:
		b.handleChannelJoined(c)
	}
}

// send enqueues a command unless the broker has stopped.
func (b *Broker) send(cmd command) {
	select {
	case b.cmds <- cmd:
	case <-b.done:
	}
}

// ===================== registration =====================

// RegisterClient checks membership and attaches the connection to the room.
func (b *Broker) RegisterClient(ctx context.Context, roomID string, userID int32, connID string, conn Conn) error {
	ok, err := b.store.IsParticipant(ctx, roomID, userID)
	if err != nil {
		return fmt.Errorf("broker: register: %w", err)
	}
	if !ok {
		return chat.ErrNotAMember
	}

	reply := make(chan struct{}, 1)
	b.send(registerCmd{roomID: roomID, connID: connID, userID: userID, conn: conn, reply: reply})
	select {
	case <-reply:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return errStopped
	}
}

// UnregisterClient detaches a connection. Safe to call more than once.
func (b *Broker) UnregisterClient(roomID string, userID int32, connID string) {
	b.send(unregisterCmd{roomID: roomID, connID: connID, userID: userID})
}

func (b *Broker) handleRegister(c registerCmd) {
	room := b.rooms[c.roomID]
	if room == nil {
		room = make(map[string]*member)
		b.rooms[c.roomID] = room
	}
	room[c.connID] = &member{userID: c.userID, conn: c.conn}
	b.tracker.Join(c.userID, c.connID)

	// First local member of the room subscribes the node to its topic.
	if b.channels[c.roomID] == nil && !b.joining[c.roomID] && b.connected.Load() {
		b.joining[c.roomID] = true
		go func(roomID string) {
			ctx, cancel := context.WithTimeout(context.Background(), joinTimeout)
			defer cancel()
			ch, err := b.downstream.Join(ctx, topicForRoom(roomID))
			b.send(channelJoinedCmd{roomID: roomID, ch: ch, err: err})
		}(c.roomID)
	}
	c.reply <- struct{}{}
}

func (b *Broker) handleUnregister(c unregisterCmd) {
	room := b.rooms[c.roomID]
	if room == nil {
		return
	}
	if _, ok := room[c.connID]; !ok {
		return
	}
	delete(room, c.connID)
	b.tracker.Leave(c.userID, c.connID)

	if len(room) == 0 {
		delete(b.rooms, c.roomID)
		if ch := b.channels[c.roomID]; ch != nil {
			_ = ch.Close()
			delete(b.channels, c.roomID)
		}
	}
}

func (b *Broker) handleChannelJoined(c channelJoinedCmd) {
	delete(b.joining, c.roomID)
	if c.err != nil {
		b.log.Warn("downstream join failed; cross-node delivery degraded",
			zap.String("room_id", c.roomID), zap.Error(c.err))
		return
	}
	// All members left while the join was in flight.
	if len(b.rooms[c.roomID]) == 0 {
		_ = c.ch.Close()
		return
	}
	b.channels[c.roomID] = c.ch
	go b.pump(c.roomID, c.ch)
}

// pump forwards downstream events for one room into the mailbox, dropping
// frames this node published itself.
func (b *Broker) pump(roomID string, ch pubsubport.Channel) {
	for ev := range ch.Events() {
		if ev.Name != eventNewMessage && ev.Name != eventReadReceipt {
			continue
		}
		var origin struct {
			Origin string `json:"origin"`
		}
		if err := json.Unmarshal(ev.Payload, &origin); err != nil || origin.Origin == b.id {
			continue
		}
		b.send(fanoutCmd{roomID: roomID, payload: ev.Payload})
	}
}

// ===================== publish =====================

// clientFrame is the JSON envelope delivered to websocket clients and, with
// Origin set, published downstream for other nodes.
type clientFrame struct {
	Op        string    `json:"op"`
	Origin    string    `json:"origin,omitempty"`
	RoomID    string    `json:"room_id"`
	SenderID  int32     `json:"sender_id"`
	MsgRefID  string    `json:"msg_ref_id,omitempty"`
	Content   string    `json:"content,omitempty"`
	Seq       uint64    `json:"seq,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// PublishMessage buffers the message, fans it out to local members, pushes it
// downstream and tracks it in the pending-ack ledger. ErrBufferFull means the
// room is draining too slowly; the client retries with the same msg_ref_id.
func (b *Broker) PublishMessage(ctx context.Context, msg *chat.Message) error {
	reply := make(chan error, 1)
	b.send(publishCmd{msg: msg, reply: reply})
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return errStopped
	}
}

func (b *Broker) handlePublish(msg *chat.Message) error {
	buf := b.buffer(msg.RoomID)
	if err := buf.push(msg); err != nil {
		b.scheduleDrain(msg.RoomID)
		return err
	}

	frame, err := json.Marshal(clientFrame{
		Op:        eventNewMessage,
		Origin:    b.id,
		RoomID:    msg.RoomID,
		SenderID:  msg.SenderID,
		MsgRefID:  msg.MsgRefID,
		Content:   msg.Content,
		Seq:       msg.Seq,
		CreatedAt: msg.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("broker: encode frame: %w", err)
	}

	b.fanout(msg.RoomID, msg.SenderID, frame)
	b.pushDownstream(topicForRoom(msg.RoomID), eventNewMessage, frame)
	go b.recon.Track(context.Background(), msg)

	if buf.needsDrain() && !b.draining[msg.RoomID] {
		b.scheduleDrain(msg.RoomID)
	}
	return nil
}

// fanout delivers payload to every local member of the room except exclude.
// Send failures are the connection's problem; it closes itself on overflow.
func (b *Broker) fanout(roomID string, exclude int32, payload []byte) {
	for _, m := range b.rooms[roomID] {
		if exclude != 0 && m.userID == exclude {
			continue
		}
		if err := m.conn.Send(payload); err != nil {
			b.log.Debug("local delivery failed", zap.String("room_id", roomID), zap.Error(err))
		}
	}
}

func (b *Broker) pushDownstream(topic, event string, payload []byte) {
	if !b.connected.Load() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
		defer cancel()
		if err := b.downstream.Push(ctx, topic, event, payload); err != nil {
			b.log.Warn("downstream push failed", zap.String("topic", topic), zap.Error(err))
		}
	}()
}

// ===================== draining =====================

func (b *Broker) buffer(roomID string) *roomBuffer {
	buf := b.buffers[roomID]
	if buf == nil {
		buf = &roomBuffer{}
		b.buffers[roomID] = buf
	}
	return buf
}

// handleTake pops the room buffer and marks the room as draining, so only one
// drain owns a batch at a time.
func (b *Broker) handleTake(roomID string) []*chat.Message {
	if b.draining[roomID] {
		return nil
	}
	msgs := b.buffer(roomID).take()
	if len(msgs) > 0 {
		b.draining[roomID] = true
	}
	return msgs
}

func (b *Broker) take(roomID string) []*chat.Message {
	reply := make(chan []*chat.Message, 1)
	b.send(takeCmd{roomID: roomID, reply: reply})
	select {
	case msgs := <-reply:
		return msgs
	case <-b.done:
		return nil
	}
}

// scheduleDrain hands the room to the task queue, or drains in-process when
// no queue client is wired.
func (b *Broker) scheduleDrain(roomID string) {
	if b.tasks == nil {
		go func() { _ = b.DrainRoom(context.Background(), roomID) }()
		return
	}
	go func() {
		payload, _ := json.Marshal(task.DrainPayload{RoomID: roomID})
		ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
		defer cancel()
		_, err := b.tasks.Enqueue(ctx,
			queueport.Task{Type: task.TypeDrainRoom, Payload: payload},
			queueport.EnqueueOption{Queue: "chat", MaxRetry: 5, UniqueTTL: 30 * time.Second})
		if err != nil {
			b.log.Warn("drain enqueue failed", zap.String("room_id", roomID), zap.Error(err))
		}
	}()
}

// DrainRoom persists the room's buffered messages. On failure the batch goes
// back into the buffer and the error propagates so the queue retries.
func (b *Broker) DrainRoom(ctx context.Context, roomID string) error {
	msgs := b.take(roomID)
	if len(msgs) == 0 {
		return nil
	}
	defer b.send(drainDoneCmd{roomID: roomID})

	if _, err := b.store.InsertMessages(ctx, msgs); err != nil {
		b.send(requeueCmd{roomID: roomID, msgs: msgs})
		b.log.Error("drain failed, batch requeued",
			zap.String("room_id", roomID), zap.Int("count", len(msgs)), zap.Error(err))
		return fmt.Errorf("broker: drain room: %w", err)
	}
	return nil
}

func (b *Broker) flushAll() {
	for roomID, buf := range b.buffers {
		if buf.len() > 0 && !b.draining[roomID] {
			b.scheduleDrain(roomID)
		}
	}
}

// shutdown runs in the loop goroutine after ctx cancellation: closes all
// downstream channels and synchronously flushes every buffer.
func (b *Broker) shutdown() {
	for roomID, ch := range b.channels {
		_ = ch.Close()
		delete(b.channels, roomID)
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	for roomID, buf := range b.buffers {
		msgs := buf.take()
		if len(msgs) == 0 {
			continue
		}
		if _, err := b.store.InsertMessages(ctx, msgs); err != nil {
			b.log.Error("final flush failed, buffered tail lost",
				zap.String("room_id", roomID), zap.Int("count", len(msgs)), zap.Error(err))
		}
	}
}

// ===================== history =====================

// HistoryRequest is one page request against a room's history.
// A nil PageBack defaults to paging toward older messages.
type HistoryRequest struct {
	RoomID   string
	UserID   int32
	Limit    int
	Cursor   string
	PageBack *bool
}

// HistoryPage is one newest-first page plus opaque continuation cursors.
type HistoryPage struct {
	Messages   []*chat.Message
	NextCursor string // toward older messages
	PrevCursor string // toward newer messages
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return 20
	case n > 100:
		return 100
	default:
		return n
	}
}

// FetchHistory drains the room buffer, then serves one durable page. If the
// drain fails the batch is requeued and, on the newest page, the buffered
// messages are merged into the response so readers still see them.
func (b *Broker) FetchHistory(ctx context.Context, req HistoryRequest) (*HistoryPage, error) {
	var cur *chat.Cursor
	if req.Cursor != "" {
		c, err := chat.ParseCursor(req.Cursor)
		if err != nil {
			return nil, err
		}
		cur = &c
	}
	pageBack := true
	if req.PageBack != nil {
		pageBack = *req.PageBack
	}
	limit := clampLimit(req.Limit)

	ok, err := b.store.IsParticipant(ctx, req.RoomID, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("broker: history: %w", err)
	}
	if !ok {
		return nil, chat.ErrNotAMember
	}

	var undrained []*chat.Message
	if buffered := b.take(req.RoomID); len(buffered) > 0 {
		if _, err := b.store.InsertMessages(ctx, buffered); err != nil {
			b.log.Error("read-triggered drain failed, serving buffer from memory",
				zap.String("room_id", req.RoomID), zap.Error(err))
			b.send(requeueCmd{roomID: req.RoomID, msgs: buffered})
			undrained = buffered
		}
		b.send(drainDoneCmd{roomID: req.RoomID})
	}

	rows, err := b.store.ListMessages(ctx, port.HistoryQuery{
		RoomID:   req.RoomID,
		Limit:    limit + 1,
		Cursor:   cur,
		PageBack: pageBack,
	})
	if err != nil {
		return nil, fmt.Errorf("broker: history: %w", err)
	}

	hasMore := len(rows) > limit
	if hasMore {
		if pageBack {
			rows = rows[:limit] // drop the oldest probe row
		} else {
			rows = rows[1:] // rows are newest-first; drop the newest probe row
		}
	}

	page := &HistoryPage{Messages: rows}
	if len(rows) > 0 {
		oldest, newest := rows[len(rows)-1], rows[0]
		if (pageBack && hasMore) || !pageBack {
			page.NextCursor = (chat.Cursor{CreatedAt: oldest.CreatedAt, ID: oldest.ID}).Encode()
		}
		if (pageBack && cur != nil) || (!pageBack && hasMore) {
			page.PrevCursor = (chat.Cursor{CreatedAt: newest.CreatedAt, ID: newest.ID}).Encode()
		}
	}

	// Undrained messages are the newest in the room; they only belong on the
	// first page.
	if cur == nil && len(undrained) > 0 {
		merged := make([]*chat.Message, 0, len(undrained)+len(page.Messages))
		for i := len(undrained) - 1; i >= 0; i-- {
			merged = append(merged, undrained[i])
		}
		page.Messages = append(merged, page.Messages...)
	}
	return page, nil
}

// ===================== read state =====================

// MarkRead records the read pointer, resets the unread counter and emits a
// read receipt to the room.
func (b *Broker) MarkRead(ctx context.Context, userID int32, roomID, msgRefID string) error {
	ok, err := b.store.IsParticipant(ctx, roomID, userID)
	if err != nil {
		return fmt.Errorf("broker: mark read: %w", err)
	}
	if !ok {
		return chat.ErrNotAMember
	}
	if err := b.store.UpsertLastRead(ctx, &chat.LastRead{
		UserID: userID, RoomID: roomID, LastReadMsgID: msgRefID,
	}); err != nil {
		return fmt.Errorf("broker: mark read: %w", err)
	}

	frame, err := json.Marshal(clientFrame{
		Op:        eventReadReceipt,
		Origin:    b.id,
		RoomID:    roomID,
		SenderID:  userID,
		MsgRefID:  msgRefID,
		CreatedAt: time.Now().UTC(),
	})
	if err == nil {
		b.send(fanoutCmd{roomID: roomID, exclude: userID, payload: frame})
		b.pushDownstream(topicForRoom(roomID), eventReadReceipt, frame)
	}
	return nil
}

// GetLastRead returns the read pointer, or nil if none was recorded.
func (b *Broker) GetLastRead(ctx context.Context, userID int32, roomID string) (*chat.LastRead, error) {
	ok, err := b.store.IsParticipant(ctx, roomID, userID)
	if err != nil {
		return nil, fmt.Errorf("broker: last read: %w", err)
	}
	if !ok {
		return nil, chat.ErrNotAMember
	}
	return b.store.GetLastRead(ctx, userID, roomID)
}

// UnreadSnapshot lists the user's unread counters across all their rooms.
func (b *Broker) UnreadSnapshot(ctx context.Context, userID int32) ([]*chat.UnreadRow, error) {
	return b.store.UnreadSnapshot(ctx, userID)
}

// ===================== rooms and presence =====================

// CreateRoom idempotently provisions the room for a user pair and job post
// and returns its compact id.
func (b *Broker) CreateRoom(ctx context.Context, userA, userB, postID int32) (string, error) {
	key := chat.NewRoomKey(userA, userB, postID)
	roomID := key.Encode()
	room := &chat.Room{ID: roomID, PostID: postID}
	if err := b.store.EnsureRoom(ctx, room, []int32{key.UserA, key.UserB}); err != nil {
		return "", fmt.Errorf("broker: create room: %w", err)
	}
	return roomID, nil
}

// IsOnline reports whether the user has a live connection on this node.
func (b *Broker) IsOnline(userID int32) bool {
	return b.tracker.IsOnline(userID)
}

// onPresence broadcasts the user's aggregate online/offline flip downstream.
func (b *Broker) onPresence(tr presence.Transition) {
	payload, err := json.Marshal(struct {
		Origin string          `json:"origin"`
		UserID int32           `json:"user_id"`
		Status presence.Status `json:"status"`
	}{Origin: b.id, UserID: tr.UserID, Status: tr.Status})
	if err != nil {
		return
	}
	b.pushDownstream(presenceTopic, eventPresence, payload)
}
