package broker

import (
	"bufio"
	"net"
	"sync"
	"time"

	"github.com/tacoreio/tacore/pkg/protocol"
)

type peerSide int

const (
	sideClient peerSide = iota
	sideWorker
)

func (s peerSide) String() string {
	if s == sideWorker {
		return "worker"
	}
	return "client"
}

// peer is one accepted connection. The read pump posts events to the
// router; the write pump drains the outbound channel. The router never
// touches the socket directly.
type peer struct {
	id   string
	side peerSide
	conn net.Conn

	out     chan [][]byte
	closed  chan struct{}
	closing chan struct{}
	once    sync.Once
	drain   sync.Once
}

func newPeer(id string, side peerSide, conn net.Conn) *peer {
	return &peer{
		id:      id,
		side:    side,
		conn:    conn,
		out:     make(chan [][]byte, 64),
		closed:  make(chan struct{}),
		closing: make(chan struct{}),
	}
}

// send enqueues payload frames without blocking. Returns false when the
// peer is gone or its outbound queue is full; the caller decides whether
// that matters.
func (p *peer) send(frames [][]byte) bool {
	select {
	case <-p.closed:
		return false
	default:
	}
	select {
	case p.out <- frames:
		return true
	default:
		return false
	}
}

func (p *peer) close() {
	p.once.Do(func() {
		close(p.closed)
		_ = p.conn.Close()
	})
}

// beginClose asks the write pump to flush queued frames and then close the
// connection. Used at graceful shutdown so final replies still go out.
func (p *peer) beginClose() {
	p.drain.Do(func() {
		close(p.closing)
	})
}

func (p *peer) writeLoop(writeTimeout time.Duration) {
	write := func(frames [][]byte) bool {
		_ = p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := protocol.WriteMessage(p.conn, frames); err != nil {
			p.close()
			return false
		}
		return true
	}

	for {
		select {
		case <-p.closed:
			return
		case frames := <-p.out:
			if !write(frames) {
				return
			}
		case <-p.closing:
			for {
				select {
				case frames := <-p.out:
					if !write(frames) {
						return
					}
				default:
					p.close()
					return
				}
			}
		}
	}
}

func (p *peer) readLoop(events chan<- event, stop <-chan struct{}, maxFrameSize int) {
	br := bufio.NewReader(p.conn)
	for {
		frames, err := protocol.ReadMessage(br, maxFrameSize)
		if err != nil {
			p.close()
			select {
			case events <- event{kind: evClosed, peer: p, err: err}:
			case <-stop:
			}
			return
		}
		select {
		case events <- event{kind: evMessage, peer: p, frames: frames}:
		case <-stop:
			return
		}
	}
}
