package coap

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	stderrors "errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-sandbox/blockwise"
	"github.com/wippyai/wasm-sandbox/codec"
	"github.com/wippyai/wasm-sandbox/errors"
	"github.com/wippyai/wasm-sandbox/sandbox"
)

// Transmission defaults from RFC 7252 §4.8.
const (
	DefaultAckTimeout      = 2 * time.Second
	DefaultMaxRetransmit   = 4
	DefaultSeparateTimeout = 30 * time.Second
)

// ClientOptions configures a Client.
type ClientOptions struct {
	AckTimeout      time.Duration
	SeparateTimeout time.Duration
	MaxRetransmit   int

	// BlockSZX is the size exponent for uploads and the preferred one for
	// reads.
	BlockSZX uint8
}

// Client issues confirmable requests to one sandbox server. Requests are
// sent one at a time.
type Client struct {
	conn net.Conn
	opts ClientOptions
	mid  uint16
	mu   sync.Mutex
}

// ResponseError is a response carrying an error code.
type ResponseError struct {
	Payload []byte
	Code    codes.Code
}

func (e *ResponseError) Error() string {
	if len(e.Payload) > 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Payload)
	}
	return e.Code.String()
}

// Status returns the sandbox status the code maps to.
func (e *ResponseError) Status() (sandbox.Status, bool) {
	return Status(e.Code)
}

// Dial connects a client to a server address.
func Dial(ctx context.Context, addr string, opts ClientOptions) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseTransport, errors.KindClosed, err, "dial "+addr)
	}
	return NewClient(conn, opts), nil
}

// NewClient wraps a connected datagram socket.
func NewClient(conn net.Conn, opts ClientOptions) *Client {
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = DefaultAckTimeout
	}
	if opts.SeparateTimeout <= 0 {
		opts.SeparateTimeout = DefaultSeparateTimeout
	}
	if opts.MaxRetransmit <= 0 {
		opts.MaxRetransmit = DefaultMaxRetransmit
	}
	if opts.BlockSZX > blockwise.MaxSZX {
		opts.BlockSZX = blockwise.MaxSZX
	}

	var seed [2]byte
	_, _ = rand.Read(seed[:])
	return &Client{conn: conn, opts: opts, mid: binary.BigEndian.Uint16(seed[:])}
}

// Close closes the socket.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Do sends a confirmable request and waits for its response, resending
// with exponential back-off until acknowledged.
func (c *Client) Do(ctx context.Context, code codes.Code, path []string, opts []message.Option, payload []byte) (message.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var token [4]byte
	_, _ = rand.Read(token[:])
	c.mid++
	req := message.Message{
		Type:      message.Confirmable,
		Code:      code,
		MessageID: int32(c.mid),
		Payload:   payload,
	}
	if code != codes.Empty {
		req.Token = token[:]
	}
	for _, seg := range path {
		req.Options = append(req.Options, message.Option{ID: message.URIPath, Value: []byte(seg)})
	}
	req.Options = append(req.Options, opts...)

	data, err := Encode(req)
	if err != nil {
		return message.Message{}, err
	}
	return c.exchange(ctx, req, data)
}

func (c *Client) exchange(ctx context.Context, req message.Message, data []byte) (message.Message, error) {
	stop := context.AfterFunc(ctx, func() { c.conn.SetReadDeadline(time.Now()) })
	defer stop()

	buf := make([]byte, MaxMessageSize+1)
	timeout := c.opts.AckTimeout
	acked := false

	for attempt := 0; attempt <= c.opts.MaxRetransmit; attempt++ {
		if !acked {
			if attempt > 0 {
				Logger().Debug("retransmitting",
					zap.Int32("mid", req.MessageID),
					zap.Int("attempt", attempt))
			}
			if _, err := c.conn.Write(data); err != nil {
				return message.Message{}, errors.Wrap(errors.PhaseTransport, errors.KindClosed, err, "send request")
			}
		}

		wait := timeout
		if acked {
			wait = c.opts.SeparateTimeout
		}
		if err := c.conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
			return message.Message{}, errors.Wrap(errors.PhaseTransport, errors.KindClosed, err, "set deadline")
		}

		for {
			if err := ctx.Err(); err != nil {
				return message.Message{}, err
			}
			n, err := c.conn.Read(buf)
			if err != nil {
				var ne net.Error
				if stderrors.As(err, &ne) && ne.Timeout() {
					break
				}
				return message.Message{}, errors.Wrap(errors.PhaseTransport, errors.KindClosed, err, "read response")
			}
			resp, err := Decode(buf[:n])
			if err != nil {
				continue
			}

			switch resp.Type {
			case message.Reset:
				if resp.MessageID == req.MessageID {
					return message.Message{}, errors.New(errors.PhaseTransport, errors.KindInvalidInput).
						Detail("request %d reset by peer", req.MessageID).
						Build()
				}
			case message.Acknowledgement:
				if resp.MessageID != req.MessageID {
					continue
				}
				if resp.Code == codes.Empty {
					acked = true
					continue
				}
				if bytes.Equal(resp.Token, req.Token) {
					return resp, nil
				}
			case message.Confirmable, message.NonConfirmable:
				if !bytes.Equal(resp.Token, req.Token) {
					continue
				}
				if resp.Type == message.Confirmable {
					c.ack(resp.MessageID)
				}
				return resp, nil
			}
		}

		if acked {
			break
		}
		timeout *= 2
	}

	return message.Message{}, errors.New(errors.PhaseTransport, errors.KindClosed).
		Detail("no response to request %d", req.MessageID).
		Build()
}

func (c *Client) ack(mid int32) {
	data, err := Encode(message.Message{Type: message.Acknowledgement, Code: codes.Empty, MessageID: mid})
	if err != nil {
		return
	}
	_, _ = c.conn.Write(data)
}

// Ping sends an empty confirmable message and waits for the reset.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Do(ctx, codes.Empty, nil, nil, nil)
	if errors.KindOf(err) == errors.KindInvalidInput {
		return nil
	}
	if err == nil {
		return errors.InvalidInput(errors.PhaseTransport, "ping answered with a response")
	}
	return err
}

// PutResult reports a finished upload.
type PutResult struct {
	ETag   []byte
	Blocks int
}

// Put uploads code as the capsule name using Block1 transfers.
func (c *Client) Put(ctx context.Context, name string, code []byte) (PutResult, error) {
	size := 1 << (4 + int(c.opts.BlockSZX))
	path := []string{SandboxPath, name}

	for num := 0; ; num++ {
		start := num * size
		end := min(start+size, len(code))
		d := blockwise.Descriptor{Num: uint32(num), More: end < len(code), SZX: c.opts.BlockSZX}

		opts := []message.Option{{ID: message.Block1, Value: d.Encode()}}
		if num == 0 {
			opts = append(opts, uintOption(message.Size1, uint32(len(code))))
		}
		resp, err := c.Do(ctx, codes.PUT, path, opts, code[start:end])
		if err != nil {
			return PutResult{}, err
		}

		if d.More {
			if resp.Code != codes.Continue {
				return PutResult{}, &ResponseError{Code: resp.Code, Payload: resp.Payload}
			}
			continue
		}
		if resp.Code != codes.Created {
			return PutResult{}, &ResponseError{Code: resp.Code, Payload: resp.Payload}
		}
		etag, _ := option(resp, message.ETag)
		return PutResult{ETag: etag, Blocks: num + 1}, nil
	}
}

// Get runs the capsule name and returns its output in the given format,
// following Block2 until the last block.
func (c *Client) Get(ctx context.Context, name string, accept message.MediaType) ([]byte, error) {
	return c.getBlockwise(ctx, []string{SandboxPath, name}, &accept)
}

// Delete removes the capsule name.
func (c *Client) Delete(ctx context.Context, name string) error {
	resp, err := c.Do(ctx, codes.DELETE, []string{SandboxPath, name}, nil, nil)
	if err != nil {
		return err
	}
	if resp.Code != codes.Deleted {
		return &ResponseError{Code: resp.Code, Payload: resp.Payload}
	}
	return nil
}

// Instructions fetches the usage hint.
func (c *Client) Instructions(ctx context.Context) (string, error) {
	body, err := c.getBlockwise(ctx, []string{InstructionsPath}, nil)
	return string(body), err
}

// Discover lists the capsules advertised in /.well-known/core.
func (c *Client) Discover(ctx context.Context) ([]string, error) {
	body, err := c.getBlockwise(ctx, []string{".well-known", "core"}, nil)
	if err != nil {
		return nil, err
	}
	return ParseLinks(string(body)), nil
}

// Directory fetches the capsule table with sizes, digests and run counts.
func (c *Client) Directory(ctx context.Context) ([]codec.DirectoryEntry, error) {
	body, err := c.getBlockwise(ctx, []string{DirectoryPath}, nil)
	if err != nil {
		return nil, err
	}
	entries, err := codec.UnmarshalDirectory(body)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseDecode, errors.KindInvalidInput, err, "directory")
	}
	return entries, nil
}

// ParseLinks extracts capsule names from a link-format document.
func ParseLinks(doc string) []string {
	prefix := "/" + SandboxPath + "/"
	var names []string
	for _, link := range strings.Split(doc, ",") {
		link = strings.TrimSpace(link)
		end := strings.IndexByte(link, '>')
		if !strings.HasPrefix(link, "<") || end < 0 {
			continue
		}
		target := link[1:end]
		if !strings.HasPrefix(target, prefix) {
			continue
		}
		name, err := url.PathUnescape(target[len(prefix):])
		if err != nil {
			continue
		}
		names = append(names, name)
	}
	return names
}

func (c *Client) getBlockwise(ctx context.Context, path []string, accept *message.MediaType) ([]byte, error) {
	var (
		body []byte
		etag []byte
	)
	d := blockwise.Descriptor{SZX: c.opts.BlockSZX}

	for {
		opts := []message.Option{{ID: message.Block2, Value: d.Encode()}}
		if accept != nil {
			opts = append(opts, uintOption(message.Accept, uint32(*accept)))
		}
		resp, err := c.Do(ctx, codes.GET, path, opts, nil)
		if err != nil {
			return nil, err
		}
		if resp.Code != codes.Content {
			return nil, &ResponseError{Code: resp.Code, Payload: resp.Payload}
		}

		raw, ok := option(resp, message.Block2)
		if !ok {
			return resp.Payload, nil
		}
		got, err := blockwise.Parse(blockwise.Block2Option, raw)
		if err != nil {
			return nil, err
		}

		tag, _ := option(resp, message.ETag)
		if got.Num == 0 {
			etag = tag
		} else if !bytes.Equal(tag, etag) {
			return nil, errors.New(errors.PhaseTransport, errors.KindInvalidInput).
				Detail("representation changed during block-wise read").
				Build()
		}
		if got.Offset() != len(body) {
			return nil, errors.OutOfOrder(strings.Join(path, "/"), got.Offset(), len(body))
		}

		body = append(body, resp.Payload...)
		if !got.More {
			return body, nil
		}
		d = blockwise.Descriptor{Num: got.Num + 1, SZX: got.SZX}
	}
}

func uintOption(id message.OptionID, v uint32) message.Option {
	buf := make([]byte, 4)
	n, _ := message.EncodeUint32(buf, v)
	return message.Option{ID: id, Value: buf[:n]}
}
