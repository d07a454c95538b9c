package machine

// bridge.go implements the host<->guest file-transfer bridge: a
// thread-safe, single-writer-many-readers queue of pending requests from
// external host clients, served one at a time by XIOS running on the
// guest thread, and a condition-variable-signalled queue of replies
// delivered back to the waiting clients. The condition-variable design
// mirrors the teacher's Keyboard device, which uses a sync.Cond to let
// writers block until a reader drains a full buffer; here the roles are
// reversed (readers wait for a writer) but the primitive is the same.

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/mpmhost/mpmhost/internal/log"
)

// ReqType is the closed set of bridge request types.
type ReqType byte

const (
	ReqDirSearch ReqType = iota
	ReqFileRead
	ReqFileWrite
	ReqFileDelete
	ReqFileCreate
	ReqFileClose
	ReqFileOpen
	ReqTest
)

// Status is the closed set of bridge reply statuses.
type Status byte

const (
	StatusOK Status = iota
	StatusNotFound
	StatusDiskFull
	StatusReadOnly
	StatusInvalid
	StatusExists
)

// BridgeBufferSize is the size, in bytes, of the guest-visible bridge
// buffer used to serialize requests and replies.
const BridgeBufferSize = 256

// Request is one bridge request.
type Request struct {
	ID     uint32
	Type   ReqType
	Drive  byte
	User   byte
	Flags  byte
	Name   [8]byte
	Ext    [3]byte
	Offset uint32
	Length uint16
	Data   []byte
}

// Reply is one bridge reply.
type Reply struct {
	ID       uint32
	Status   Status
	MoreData bool
	Data     []byte
}

// EncodeRequest serializes req into the fixed 256-byte guest buffer
// layout: 0=type; 1=drive; 2=user; 3=flags; 4..11=filename; 12..14=ext;
// 15..18=offset LE32; 19..20=length LE16; 21..255=data.
func EncodeRequest(req Request) [BridgeBufferSize]byte {
	var buf [BridgeBufferSize]byte

	buf[0] = byte(req.Type)
	buf[1] = req.Drive
	buf[2] = req.User
	buf[3] = req.Flags
	copy(buf[4:12], req.Name[:])
	copy(buf[12:15], req.Ext[:])
	binary.LittleEndian.PutUint32(buf[15:19], req.Offset)
	binary.LittleEndian.PutUint16(buf[19:21], req.Length)

	n := copy(buf[21:], req.Data)
	_ = n

	return buf
}

// DecodeRequest parses a request from the fixed 256-byte guest buffer
// layout. The filename and extension fields are returned verbatim
// (space-padded); payload data is the remainder of the buffer.
func DecodeRequest(buf []byte) (Request, error) {
	var req Request

	if len(buf) != BridgeBufferSize {
		return req, fmt.Errorf("%w: bridge request: want %d bytes, got %d", ErrBridge, BridgeBufferSize, len(buf))
	}

	req.Type = ReqType(buf[0])
	req.Drive = buf[1]
	req.User = buf[2]
	req.Flags = buf[3]
	copy(req.Name[:], buf[4:12])
	copy(req.Ext[:], buf[12:15])
	req.Offset = binary.LittleEndian.Uint32(buf[15:19])
	req.Length = binary.LittleEndian.Uint16(buf[19:21])
	req.Data = append([]byte(nil), buf[21:]...)

	return req, nil
}

// EncodeReply serializes reply into the fixed 256-byte guest buffer
// layout: 0=status (top bit = more_data); 1..2=length LE16; 3..255=data.
func EncodeReply(reply Reply) [BridgeBufferSize]byte {
	var buf [BridgeBufferSize]byte

	status := byte(reply.Status)
	if reply.MoreData {
		status |= 0x80
	}

	buf[0] = status
	binary.LittleEndian.PutUint16(buf[1:3], uint16(len(reply.Data)))
	copy(buf[3:], reply.Data)

	return buf
}

// DecodeReply parses a reply from the fixed 256-byte guest buffer
// layout.
func DecodeReply(buf []byte) (Reply, error) {
	var reply Reply

	if len(buf) != BridgeBufferSize {
		return reply, fmt.Errorf("%w: bridge reply: want %d bytes, got %d", ErrBridge, BridgeBufferSize, len(buf))
	}

	reply.Status = Status(buf[0] &^ 0x80)
	reply.MoreData = buf[0]&0x80 != 0

	length := binary.LittleEndian.Uint16(buf[1:3])
	if int(length) > len(buf)-3 {
		length = uint16(len(buf) - 3)
	}

	reply.Data = append([]byte(nil), buf[3:3+length]...)

	return reply, nil
}

// Bridge is the thread-safe request/reply queue between external host
// clients and the guest's resident system process.
type Bridge struct {
	mu   sync.Mutex
	cond *sync.Cond

	pending []Request
	current *Request
	replies []Reply

	nextID uint32

	log *log.Logger
}

// NewBridge creates an empty bridge.
func NewBridge(logger *log.Logger) *Bridge {
	if logger == nil {
		logger = log.DefaultLogger()
	}

	b := &Bridge{log: logger}
	b.cond = sync.NewCond(&b.mu)

	return b
}

// EnqueueRequest assigns req a new, monotonically increasing id, appends
// it to the pending queue, and returns the id.
func (b *Bridge) EnqueueRequest(req Request) uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	req.ID = b.nextID
	b.pending = append(b.pending, req)

	b.log.Debug("bridge request enqueued", log.String("ID", fmt.Sprint(req.ID)))

	return req.ID
}

// HasPendingRequest is a non-blocking peek used by XIOS polling.
func (b *Bridge) HasPendingRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.pending) > 0
}

// GetRequest atomically dequeues the head of the pending queue into the
// single current-request slot and serializes it into buf. It returns
// false if no request was pending.
func (b *Bridge) GetRequest(buf []byte) (Request, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.pending) == 0 {
		return Request{}, false
	}

	req := b.pending[0]
	b.pending = b.pending[1:]
	b.current = &req

	wire := EncodeRequest(req)
	copy(buf, wire[:])

	return req, true
}

// SetReply parses a reply out of buf, tags it with the id of the request
// most recently delivered by GetRequest, and wakes any waiters.
func (b *Bridge) SetReply(buf []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	reply, err := DecodeReply(buf)
	if err != nil {
		return err
	}

	if b.current == nil {
		return fmt.Errorf("%w: set_reply with no request in flight", ErrBridge)
	}

	reply.ID = b.current.ID
	b.current = nil
	b.replies = append(b.replies, reply)

	b.log.Debug("bridge reply received", log.String("ID", fmt.Sprint(reply.ID)))

	b.cond.Broadcast()

	return nil
}

// WaitForReply blocks until a reply with the matching id appears, or
// timeout elapses. A reply that arrives but does not match is left in
// the queue for other waiters.
func (b *Bridge) WaitForReply(id uint32, timeout time.Duration) (Reply, bool) {
	deadline := time.Now().Add(timeout)

	timer := time.AfterFunc(timeout, func() {
		b.mu.Lock()
		b.cond.Broadcast()
		b.mu.Unlock()
	})
	defer timer.Stop()

	b.mu.Lock()
	defer b.mu.Unlock()

	for {
		for i, reply := range b.replies {
			if reply.ID == id {
				b.replies = append(b.replies[:i], b.replies[i+1:]...)
				return reply, true
			}
		}

		if !time.Now().Before(deadline) {
			return Reply{}, false
		}

		b.cond.Wait()
	}
}
