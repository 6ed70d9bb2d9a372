package transport

import (
	"context"
	"io"
	"net"
	"net/http"

	"github.com/coder/websocket"
)

// Dialer produces the byte stream STOMP frames travel over.
type Dialer func(ctx context.Context, url string) (io.ReadWriteCloser, error)

const readLimit = 1 << 20

var stompSubprotocols = []string{"v12.stomp", "v11.stomp", "v10.stomp"}

// WebSocketDialer dials a ws:// or wss:// endpoint and exposes the socket as a
// stream of text messages.
func WebSocketDialer(header http.Header) Dialer {
	return func(ctx context.Context, url string) (io.ReadWriteCloser, error) {
		c, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
			HTTPHeader:   header,
			Subprotocols: stompSubprotocols,
		})
		if err != nil {
			return nil, err
		}
		c.SetReadLimit(readLimit)
		return websocket.NetConn(context.Background(), c, websocket.MessageText), nil
	}
}

// TCPDialer talks STOMP directly over TCP, for brokers without a websocket
// endpoint.
func TCPDialer(ctx context.Context, addr string) (io.ReadWriteCloser, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}
