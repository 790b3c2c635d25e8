package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"jobchat/internal/pkg/chat/broker"
	"jobchat/internal/pkg/chat/crypto"
	chat "jobchat/internal/pkg/chat/domain"
)

// ===================== fakes =====================

type fakeCoordinator struct {
	mu           sync.Mutex
	created      []string // room ids
	registered   []string
	unregistered []string
	published    []*chat.Message
	registerErr  error
	publishErr   error
}

func (f *fakeCoordinator) RegisterClient(_ context.Context, roomID string, _ int32, _ string, _ broker.Conn) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.registerErr != nil {
		return f.registerErr
	}
	f.registered = append(f.registered, roomID)
	return nil
}

func (f *fakeCoordinator) UnregisterClient(roomID string, _ int32, _ string) {
	f.mu.Lock()
	f.unregistered = append(f.unregistered, roomID)
	f.mu.Unlock()
}

func (f *fakeCoordinator) PublishMessage(_ context.Context, msg *chat.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	msg.Seq = uint64(len(f.published) + 1)
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeCoordinator) CreateRoom(_ context.Context, a, b, post int32) (string, error) {
	id := chat.NewRoomKey(a, b, post).Encode()
	f.mu.Lock()
	f.created = append(f.created, id)
	f.mu.Unlock()
	return id, nil
}

// scriptedReader replays frames then reports a closed connection.
type scriptedReader struct {
	frames [][]byte
}

func (r *scriptedReader) ReadMessage() (int, []byte, error) {
	if len(r.frames) == 0 {
		return 0, nil, io.EOF
	}
	f := r.frames[0]
	r.frames = r.frames[1:]
	return 1, f, nil
}

type captureConn struct {
	mu     sync.Mutex
	frames [][]byte
}

func (c *captureConn) Send(p []byte) error {
	c.mu.Lock()
	c.frames = append(c.frames, append([]byte(nil), p...))
	c.mu.Unlock()
	return nil
}

func (c *captureConn) replies(t *testing.T) []Reply {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Reply, 0, len(c.frames))
	for _, f := range c.frames {
		var r Reply
		require.NoError(t, json.Unmarshal(f, &r))
		out = append(out, r)
	}
	return out
}

func frame(t *testing.T, env Envelope) []byte {
	t.Helper()
	b, err := json.Marshal(env)
	require.NoError(t, err)
	return b
}

func runSession(t *testing.T, params Params, coord *fakeCoordinator, frames ...[]byte) (*Session, *captureConn, error) {
	t.Helper()
	out := &captureConn{}
	s := New(params, coord, &scriptedReader{frames: frames}, out, zap.NewNop())
	err := s.Run(context.Background())
	return s, out, err
}

// ===================== tests =====================

func TestSessionResolvesRoomFromTriple(t *testing.T) {
	coord := &fakeCoordinator{}
	s, _, err := runSession(t, Params{UserID: 5, PeerID: 9, PostID: 42, ConnID: "c1"}, coord)
	require.NoError(t, err)

	want := chat.NewRoomKey(5, 9, 42).Encode()
	assert.Equal(t, want, s.RoomID())
	assert.Equal(t, []string{want}, coord.registered)
	assert.Equal(t, []string{want}, coord.unregistered)
	assert.Equal(t, StateClosed, s.State())
}

func TestSessionAcceptsEncodedRoomID(t *testing.T) {
	coord := &fakeCoordinator{}
	roomID := chat.NewRoomKey(5, 9, 42).Encode()
	s, _, err := runSession(t, Params{UserID: 9, RoomID: roomID, ConnID: "c1"}, coord)
	require.NoError(t, err)
	assert.Equal(t, roomID, s.RoomID())
	// Reconnects re-run the membership upserts.
	assert.Equal(t, []string{roomID}, coord.created)
}

func TestSessionRejectsForeignRoomID(t *testing.T) {
	coord := &fakeCoordinator{}
	roomID := chat.NewRoomKey(5, 9, 42).Encode()
	_, _, err := runSession(t, Params{UserID: 777, RoomID: roomID, ConnID: "c1"}, coord)
	assert.ErrorIs(t, err, chat.ErrNotAMember)
	assert.Empty(t, coord.created)
	assert.Empty(t, coord.registered)
}

func TestSessionRejectsMalformedRoomID(t *testing.T) {
	coord := &fakeCoordinator{}
	_, _, err := runSession(t, Params{UserID: 5, RoomID: "not a room!", ConnID: "c1"}, coord)
	assert.ErrorIs(t, err, chat.ErrMalformedRoomID)
}

func TestSessionDoesNotUnregisterWhenRegistrationFails(t *testing.T) {
	coord := &fakeCoordinator{registerErr: chat.ErrNotAMember}
	_, _, err := runSession(t, Params{UserID: 5, PeerID: 9, PostID: 42, ConnID: "c1"}, coord)
	assert.ErrorIs(t, err, chat.ErrNotAMember)
	assert.Empty(t, coord.unregistered)
}

func TestSendMessagePublishesAndAcks(t *testing.T) {
	coord := &fakeCoordinator{}
	_, out, err := runSession(t, Params{UserID: 5, PeerID: 9, PostID: 42, ConnID: "c1"}, coord,
		frame(t, Envelope{Op: "send_message", Content: "hello", ClientMsgRef: "ref-1"}))
	require.NoError(t, err)

	require.Len(t, coord.published, 1)
	assert.Equal(t, "hello", coord.published[0].Content)
	assert.Equal(t, "ref-1", coord.published[0].MsgRefID)

	replies := out.replies(t)
	require.Len(t, replies, 1)
	assert.Equal(t, "ok", replies[0].Status)
	assert.Equal(t, "ref-1", replies[0].MsgRefID)
	assert.Equal(t, uint64(1), replies[0].Seq)
}

func TestMalformedFrameIsDroppedAndKeepsSession(t *testing.T) {
	coord := &fakeCoordinator{}
	_, out, err := runSession(t, Params{UserID: 5, PeerID: 9, PostID: 42, ConnID: "c1"}, coord,
		[]byte("{not json"),
		frame(t, Envelope{Op: "send_message", Content: "still alive", ClientMsgRef: "ref-2"}))
	require.NoError(t, err)

	replies := out.replies(t)
	require.Len(t, replies, 1)
	assert.Equal(t, "ok", replies[0].Status)
	require.Len(t, coord.published, 1)
}

func TestUnknownOpIsDropped(t *testing.T) {
	coord := &fakeCoordinator{}
	_, out, err := runSession(t, Params{UserID: 5, PeerID: 9, PostID: 42, ConnID: "c1"}, coord,
		frame(t, Envelope{Op: "typing_indicator"}))
	require.NoError(t, err)
	assert.Empty(t, out.replies(t))
	assert.Empty(t, coord.published)
}

func TestBufferFullSurfacesAsRetryableError(t *testing.T) {
	coord := &fakeCoordinator{publishErr: chat.ErrBufferFull}
	_, out, err := runSession(t, Params{UserID: 5, PeerID: 9, PostID: 42, ConnID: "c1"}, coord,
		frame(t, Envelope{Op: "send_message", Content: "hi", ClientMsgRef: "ref-3"}))
	require.NoError(t, err)

	replies := out.replies(t)
	require.Len(t, replies, 1)
	assert.Equal(t, "error", replies[0].Status)
	assert.Equal(t, "buffer_full", replies[0].Reason)
	assert.Equal(t, "ref-3", replies[0].MsgRefID)
}

func TestPublishFailureDoesNotKillSession(t *testing.T) {
	coord := &fakeCoordinator{publishErr: errors.New("downstream broke")}
	_, out, err := runSession(t, Params{UserID: 5, PeerID: 9, PostID: 42, ConnID: "c1"}, coord,
		frame(t, Envelope{Op: "send_message", Content: "hi", ClientMsgRef: "ref-4"}),
		frame(t, Envelope{Op: "send_message", Content: "hi again", ClientMsgRef: "ref-5"}))
	require.NoError(t, err)
	assert.Len(t, out.replies(t), 2)
}

func TestSecureContentIsDecryptedBeforePublish(t *testing.T) {
	key, err := crypto.ParseKeyHex(strings.Repeat("ab", 32))
	require.NoError(t, err)
	sealed, err := crypto.Seal(key, []byte("private offer"))
	require.NoError(t, err)

	coord := &fakeCoordinator{}
	_, out, err := runSession(t, Params{UserID: 5, PeerID: 9, PostID: 42, ConnID: "c1", Key: key}, coord,
		frame(t, Envelope{Op: "send_message", Content: sealed, ClientMsgRef: "ref-6", Secure: true}))
	require.NoError(t, err)

	require.Len(t, coord.published, 1)
	assert.Equal(t, "private offer", coord.published[0].Content)
	assert.Equal(t, "ok", out.replies(t)[0].Status)
}

func TestSecureContentWithoutKeyIsRejected(t *testing.T) {
	coord := &fakeCoordinator{}
	_, out, err := runSession(t, Params{UserID: 5, PeerID: 9, PostID: 42, ConnID: "c1"}, coord,
		frame(t, Envelope{Op: "send_message", Content: "Zm9v", ClientMsgRef: "ref-7", Secure: true}))
	require.NoError(t, err)

	replies := out.replies(t)
	require.Len(t, replies, 1)
	assert.Equal(t, "no_key", replies[0].Reason)
	assert.Empty(t, coord.published)
}

func TestTamperedCiphertextIsRejected(t *testing.T) {
	key, err := crypto.ParseKeyHex(strings.Repeat("ab", 32))
	require.NoError(t, err)

	coord := &fakeCoordinator{}
	_, out, err := runSession(t, Params{UserID: 5, PeerID: 9, PostID: 42, ConnID: "c1", Key: key}, coord,
		frame(t, Envelope{Op: "send_message", Content: "bm90IHJlYWwgY2lwaGVydGV4dA==", ClientMsgRef: "ref-8", Secure: true}))
	require.NoError(t, err)
	assert.Equal(t, "bad_ciphertext", out.replies(t)[0].Reason)
	assert.Empty(t, coord.published)
}
