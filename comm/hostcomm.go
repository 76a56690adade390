package comm

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	proto "github.com/gogo/protobuf/proto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/pkg/errors"
	"gopkg.in/tomb.v2"

	"github.com/ppopth/gbreduce/host"
	"github.com/ppopth/gbreduce/pb"
)

const (
	redialInterval  = 250 * time.Millisecond
	shutdownTimeout = 10 * time.Second
)

// HostComm is a group member that talks to the other ranks over QUIC. Every
// rank dials all lower ranks and every stream starts with a pb.Hello naming
// the rank of its sender.
//
// Any transport failure is fatal for the whole communicator: the receive
// loops die together and every pending or later Recv returns the failure once
// the messages already received are consumed. A rank that finishes its stream
// or closes its connection cleanly has left; receives from it fail with
// ErrPeerLeft once its queued messages are consumed.
type HostComm struct {
	rank  int
	size  int
	group string

	host *host.Host
	box  *mailbox
	t    tomb.Tomb

	mutex   sync.Mutex // Protects peers, joined and closing
	peers   []host.Connection
	joined  int
	ready   chan struct{} // Closed once every other rank has said hello
	closing bool

	finished sync.WaitGroup // One per registered peer, done at its EOF
}

// HostCommOption configures a HostComm during construction
type HostCommOption func(*HostComm)

// WithGroupName only lets in peers announcing the same group name
func WithGroupName(name string) HostCommOption {
	return func(c *HostComm) {
		c.group = name
	}
}

// NewHostComm joins the group made of the hosts listening on addrs, addrs[i]
// being the address of rank i. It returns once a connection to every other
// rank is established, or fails when ctx is done first.
func NewHostComm(ctx context.Context, h *host.Host, rank int, addrs []net.Addr, opts ...HostCommOption) (*HostComm, error) {
	if err := checkRank(rank, len(addrs)); err != nil {
		return nil, err
	}
	c := &HostComm{
		rank:  rank,
		size:  len(addrs),
		host:  h,
		box:   newMailbox(),
		peers: make([]host.Connection, len(addrs)),
		ready: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.size == 1 {
		close(c.ready)
	}

	c.t.Go(c.watch)
	h.SetPeerHandlers(c.addPeer, nil)

	for r := 0; r < rank; r++ {
		r := r
		c.t.Go(func() error {
			return c.dial(r, addrs[r])
		})
	}

	select {
	case <-c.ready:
		log.Infof("rank %d joined a group of %d", c.rank, c.size)
		return c, nil
	case <-ctx.Done():
		c.t.Kill(errors.Wrap(ctx.Err(), "waiting for the group to assemble"))
	case <-c.t.Dying():
	}
	err := c.t.Err()
	c.Close()
	return nil, err
}

// watch keeps the tomb alive until it is killed, then fails the mailbox and
// tears the connections down.
func (c *HostComm) watch() error {
	<-c.t.Dying()

	err := c.t.Err()
	if err == nil {
		err = ErrClosed
	} else {
		log.Errorf("rank %d: group failed: %v", c.rank, err)
	}
	c.box.fail(err)

	c.mutex.Lock()
	c.closing = true
	peers := append([]host.Connection(nil), c.peers...)
	c.mutex.Unlock()
	for _, conn := range peers {
		switch {
		case conn == nil:
		case err == ErrClosed:
			conn.Close()
		default:
			conn.Abort(err.Error())
		}
	}
	return nil
}

func (c *HostComm) dial(r int, addr net.Addr) error {
	ctx := c.t.Context(nil)
	for {
		_, err := c.host.Connect(ctx, addr)
		if err == nil {
			// The connection is served through the peer handler
			return nil
		}
		log.Debugf("rank %d: dialing rank %d at %s: %v", c.rank, r, addr, err)
		select {
		case <-c.t.Dying():
			return nil
		case <-time.After(redialInterval):
		}
	}
}

// addPeer is called by the host, with its lock held, for every new connection
func (c *HostComm) addPeer(id peer.ID, conn host.Connection) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closing {
		go conn.Close()
		return
	}
	c.t.Go(func() error {
		return c.serve(conn)
	})
}

func (c *HostComm) serve(conn host.Connection) error {
	ctx := c.t.Context(nil)

	hello := &pb.Hello{Rank: uint32(c.rank), Size: uint32(c.size), Group: c.group}
	buf, err := proto.Marshal(hello)
	if err != nil {
		return errors.WithStack(err)
	}
	if err := conn.Send(buf); err != nil {
		return c.transportError(errors.Wrapf(err, "sending hello to %s", conn.Peer()))
	}

	buf, err = conn.Receive(ctx)
	if err != nil {
		return c.transportError(errors.Wrapf(err, "waiting for hello from %s", conn.Peer()))
	}
	var theirs pb.Hello
	if err := proto.Unmarshal(buf, &theirs); err != nil {
		return errors.Wrapf(err, "invalid hello from %s", conn.Peer())
	}
	src := int(theirs.GetRank())
	if theirs.GetGroup() != c.group || int(theirs.GetSize()) != c.size {
		return errors.Errorf("peer %s belongs to group %q of %d, not %q of %d",
			conn.Peer(), theirs.GetGroup(), theirs.GetSize(), c.group, c.size)
	}
	if err := c.register(src, conn); err != nil {
		return err
	}
	defer c.finished.Done()

	for {
		buf, err := conn.Receive(ctx)
		if errors.Is(err, io.EOF) || host.IsClosedByPeer(err) {
			// Either way src has nothing more to say
			log.Debugf("rank %d: rank %d finished sending", c.rank, src)
			c.box.leave(src)
			return nil
		}
		if err != nil {
			return c.transportError(errors.Wrapf(err, "receiving from rank %d", src))
		}
		var frame pb.Frame
		if err := proto.Unmarshal(buf, &frame); err != nil {
			return errors.Wrapf(err, "invalid frame from rank %d", src)
		}
		c.box.put(src, Tag(frame.GetTag()), frame.GetInts())
	}
}

// transportError ignores failures caused by our own shutdown
func (c *HostComm) transportError(err error) error {
	select {
	case <-c.t.Dying():
		return nil
	default:
		return err
	}
}

func (c *HostComm) register(src int, conn host.Connection) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if src < 0 || src >= c.size || src == c.rank {
		return errors.Errorf("peer %s announced invalid rank %d", conn.Peer(), src)
	}
	if c.peers[src] != nil {
		return errors.Errorf("rank %d connected twice", src)
	}
	c.peers[src] = conn
	c.finished.Add(1)
	c.joined++
	if c.joined == c.size-1 {
		close(c.ready)
	}
	log.Debugf("rank %d: rank %d is peer %s", c.rank, src, conn.Peer())
	return nil
}

func (c *HostComm) Rank() int {
	return c.rank
}

func (c *HostComm) Size() int {
	return c.size
}

func (c *HostComm) Send(ctx context.Context, dst int, tag Tag, data []int64) error {
	if err := checkRank(dst, c.size); err != nil {
		return err
	}
	select {
	case <-c.t.Dying():
		if err := c.t.Err(); err != nil {
			return err
		}
		return ErrClosed
	default:
	}
	if dst == c.rank {
		c.box.put(c.rank, tag, append([]int64(nil), data...))
		return nil
	}

	c.mutex.Lock()
	conn := c.peers[dst]
	c.mutex.Unlock()

	buf, err := proto.Marshal(&pb.Frame{Tag: uint32(tag), Ints: data})
	if err != nil {
		return errors.WithStack(err)
	}
	if err := conn.Send(buf); err != nil {
		err = errors.Wrapf(err, "sending to rank %d", dst)
		c.t.Kill(err)
		return err
	}
	return nil
}

func (c *HostComm) Recv(ctx context.Context, src int, tag Tag) ([]int64, error) {
	if err := checkRank(src, c.size); err != nil {
		return nil, err
	}
	return c.box.next(ctx, src, tag)
}

func (c *HostComm) Broadcast(ctx context.Context, root, group int, tag Tag, data []int64) ([]int64, error) {
	return broadcast(ctx, c, root, group, tag, data)
}

// Close finishes the outgoing streams and waits until every peer has done the
// same, so nothing in flight is lost, then closes the connections. It returns
// the failure of the group, if any.
func (c *HostComm) Close() error {
	c.mutex.Lock()
	peers := append([]host.Connection(nil), c.peers...)
	c.mutex.Unlock()

	for _, conn := range peers {
		if conn != nil {
			conn.CloseSend()
		}
	}

	done := make(chan struct{})
	go func() {
		c.finished.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-c.t.Dying():
	case <-time.After(shutdownTimeout):
		log.Warnf("rank %d: peers did not finish within %s", c.rank, shutdownTimeout)
	}

	c.t.Kill(nil)
	err := c.t.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
