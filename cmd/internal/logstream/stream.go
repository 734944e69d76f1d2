package logstream

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	handshakeTimeout = 30 * time.Second
)

var ErrStreamClosed = errors.New("log stream is closed")

// Stream is a websocket connection to the log endpoint of one app. Reads happen on a single
// goroutine, writes are serialised.
type Stream struct {
	conn      *websocket.Conn
	writeLock sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
}

// Dial opens the log stream at streamUrl, authenticating with the bearer token.
func Dial(ctx context.Context, streamUrl string, token string) (*Stream, error) {
	u, err := url.Parse(streamUrl)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing log stream url %s", streamUrl)
	}

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "bearer "+token)
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "connecting log stream %s (http status code = %d)", u.Redacted(), resp.StatusCode)
		}
		return nil, errors.Wrapf(err, "connecting log stream %s", u.Redacted())
	}

	s := &Stream{conn: conn}
	conn.SetCloseHandler(func(code int, text string) error {
		s.closed.Store(true)
		return conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""), time.Now().Add(writeWait))
	})

	return s, nil
}

func (s *Stream) IsOpen() bool {
	return !s.closed.Load()
}

func (s *Stream) SendText(payload string) error {
	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	if !s.IsOpen() {
		return ErrStreamClosed
	}

	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}

	return s.conn.WriteMessage(websocket.TextMessage, []byte(payload))
}

// Read passes every frame to onFrame until the stream is closed or ctx is done. A normal close,
// a local Close or a cancelled context is not an error.
func (s *Stream) Read(ctx context.Context, onFrame func(payload []byte)) error {
	stop := context.AfterFunc(ctx, func() {
		s.Close()
	})
	defer stop()

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			closedLocally := s.closed.Swap(true)

			if closedLocally || ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}

			return errors.Wrap(err, "reading log stream")
		}

		onFrame(payload)
	}
}

func (s *Stream) Close() error {
	var err error

	s.closeOnce.Do(func() {
		wasOpen := !s.closed.Swap(true)

		s.writeLock.Lock()
		defer s.writeLock.Unlock()

		// the close handshake is skipped once the peer has closed or the connection failed
		if !wasOpen {
			err = s.conn.Close()
			return
		}

		if writeErr := s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "ok"), time.Now().Add(writeWait)); writeErr != nil {
			s.conn.Close()
			err = writeErr
			return
		}

		err = s.conn.Close()
	})

	return err
}
