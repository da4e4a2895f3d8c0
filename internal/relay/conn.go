package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"linechat/internal/hub"
	"linechat/internal/protocol"
	"linechat/internal/storage"
)

const auditTimeout = 5 * time.Second

// conn is the state one handler goroutine owns for its peer.
type conn struct {
	srv      *Server
	t        Transport
	sub      *hub.Subscription
	files    *Registry
	fallback protocol.Identity
	id       string
	audited  bool

	linesIn  int64
	linesOut int64
}

type readResult struct {
	line []byte
	err  error
}

func (s *Server) handle(ctx context.Context, t Transport) {
	c := &conn{
		srv:      s,
		t:        t,
		sub:      s.hub.Subscribe(),
		files:    NewRegistry(),
		fallback: protocol.NewFallbackIdentity(),
		id:       uuid.NewString(),
	}
	s.metrics.IncConn()
	s.logf("%s peer %s connected as %s", t.Network(), t.RemoteAddr(), c.fallback)
	c.startAudit(ctx)

	err := c.run(ctx)

	c.sub.Close()
	_ = t.Close()
	c.endAudit()
	s.metrics.DecConn()
	switch {
	case err == nil, errors.Is(err, hub.ErrClosed):
		s.logf("%s peer %s disconnected", t.Network(), t.RemoteAddr())
	default:
		s.logf("%s peer %s dropped: %v", t.Network(), t.RemoteAddr(), err)
	}
}

// run loops until the peer hangs up, an I/O error occurs, the hub closes or
// ctx is cancelled. Each event is handled completely before the next wait.
func (c *conn) run(ctx context.Context) error {
	lines := make(chan readResult)
	stop := make(chan struct{})
	defer close(stop)
	go c.readLoop(lines, stop)

	for {
		select {
		case <-ctx.Done():
			return nil
		case r := <-lines:
			if r.err != nil {
				if errors.Is(r.err, io.EOF) {
					return nil
				}
				return r.err
			}
			if err := c.dispatch(ctx, r.line); err != nil {
				return err
			}
		case <-c.sub.Ready():
			if err := c.deliverNext(); err != nil {
				return err
			}
		}
	}
}

func (c *conn) readLoop(out chan<- readResult, stop <-chan struct{}) {
	for {
		line, err := c.t.ReadLine()
		select {
		case out <- readResult{line: line, err: err}:
		case <-stop:
			return
		}
		if err != nil {
			return
		}
	}
}

// dispatch classifies one inbound line: commands get a direct reply, file and
// text records are republished as received, anything else is wrapped as text
// from this connection's fallback identity.
func (c *conn) dispatch(ctx context.Context, line []byte) error {
	line = bytes.TrimRight(line, "\r\n")
	c.linesIn++
	c.srv.metrics.IncLineIn()

	switch msg := protocol.Decode(line).(type) {
	case *protocol.Command:
		return c.command(msg)
	case *protocol.File:
		c.srv.metrics.IncUpload()
		c.srv.logf("%s uploaded %s (%s)", msg.User, msg.FileName, humanize.Bytes(uint64(len(msg.FileData))))
		c.recordUpload(ctx, msg)
		return c.publish(string(line))
	case *protocol.Text:
		return c.publish(string(line))
	case protocol.Raw:
		wrapped, err := protocol.Encode(protocol.NewText(c.fallback, string(msg), time.Now()))
		if err != nil {
			return err
		}
		return c.publish(string(wrapped))
	default:
		return fmt.Errorf("relay: unexpected message %T", msg)
	}
}

func (c *conn) command(cmd *protocol.Command) error {
	c.srv.metrics.IncDirectReply()
	switch cmd.CommandName() {
	case protocol.CommandRecvInfo:
		listing := c.files.Listing()
		if len(listing) == 0 {
			return c.reply(ReplyNoFiles)
		}
		return c.reply(listing...)
	case protocol.CommandRecvFile:
		name := cmd.Arg(0)
		f, ok := c.files.Get(name)
		if name == "" || !ok {
			return c.reply(ReplyFileNotFound)
		}
		encoded, err := protocol.Encode(f)
		if err != nil {
			return err
		}
		return c.reply(string(encoded), ReplyAck)
	default:
		return c.reply(fmt.Sprintf("unknown command: %s", cmd.Name))
	}
}

func (c *conn) reply(lines ...string) error {
	for _, line := range lines {
		if err := c.write(line); err != nil {
			return err
		}
	}
	return nil
}

func (c *conn) publish(line string) error {
	if _, err := c.srv.hub.Publish(line); err != nil {
		return err
	}
	c.srv.metrics.IncBroadcast()
	return nil
}

// deliverNext handles at most one hub event. Text is rendered for humans,
// files only update the registry, anything else is passed through.
func (c *conn) deliverNext() error {
	msg, ok, err := c.sub.TryRecv()
	var lagged *hub.LaggedError
	switch {
	case errors.As(err, &lagged):
		c.srv.metrics.AddLagged(lagged.Skipped)
		c.srv.logf("%s peer %s lagged, %d message(s) skipped", c.t.Network(), c.t.RemoteAddr(), lagged.Skipped)
		return nil
	case err != nil:
		return err
	case !ok:
		return nil
	}

	switch m := protocol.Decode([]byte(msg)).(type) {
	case *protocol.Text:
		return c.write(m.Format())
	case *protocol.File:
		c.files.Put(m)
		return nil
	default:
		return c.write(msg)
	}
}

func (c *conn) write(line string) error {
	if err := c.t.WriteLine(line); err != nil {
		return err
	}
	c.linesOut++
	return nil
}

func (c *conn) startAudit(ctx context.Context) {
	if c.srv.audit == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()
	err := c.srv.audit.StartSession(ctx, storage.Session{
		ID:           c.id,
		RemoteAddr:   c.t.RemoteAddr(),
		Transport:    c.t.Network(),
		FallbackName: c.fallback.Username,
		ConnectedAt:  time.Now(),
	})
	if err != nil {
		c.srv.logf("audit: start session %s: %v", c.id, err)
		return
	}
	c.audited = true
}

func (c *conn) recordUpload(ctx context.Context, f *protocol.File) {
	if !c.audited {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()
	_, err := c.srv.audit.RecordUpload(ctx, storage.Upload{
		SessionID:    c.id,
		FileName:     f.FileName,
		DeclaredSize: f.FileSize,
		ByteLen:      int64(len(f.FileData)),
		UploaderName: f.User.Username,
		UploaderID:   f.User.UserID.String(),
		Digest:       f.Digest(),
		ObservedAt:   time.Now(),
	})
	if err != nil {
		c.srv.logf("audit: record upload %s: %v", f.FileName, err)
	}
}

func (c *conn) endAudit() {
	if !c.audited {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
	defer cancel()
	if err := c.srv.audit.EndSession(ctx, c.id, time.Now(), c.linesIn, c.linesOut); err != nil {
		c.srv.logf("audit: end session %s: %v", c.id, err)
	}
}
