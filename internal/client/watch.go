package client

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"proxyhub/internal/constants"
	"proxyhub/internal/protocol"
)

var ErrAuthRejected = errors.New("server rejected the token")

// Watch attaches to the observer channel and calls handle for every event
// frame until ctx is cancelled or the server closes the connection.
func (c *Client) Watch(ctx context.Context, handle func(map[string]any)) error {
	dialer := &websocket.Dialer{
		ReadBufferSize:   constants.WSReadBufferSize,
		WriteBufferSize:  constants.WSWriteBufferSize,
		HandshakeTimeout: constants.GatewayConnectTimeout,
	}
	if c.SkipTLSVerify {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	conn, resp, err := dialer.DialContext(ctx, c.WebSocketURL(constants.EndpointObservers), nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("failed to connect to server: status %d", resp.StatusCode)
		}
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer conn.Close()

	if err := c.handshake(conn); err != nil {
		return err
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		var frame map[string]any
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		if frame["type"] == string(protocol.FramePong) {
			continue
		}
		handle(frame)
	}
}

func (c *Client) handshake(conn *websocket.Conn) error {
	conn.SetReadDeadline(time.Now().Add(constants.GatewayConnectTimeout))
	defer conn.SetReadDeadline(time.Time{})

	if _, err := readControl(conn, protocol.FrameWelcome); err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, protocol.Authenticate(c.Token, "")); err != nil {
		return err
	}
	ctrl, err := readControl(conn, "")
	if err != nil {
		return err
	}
	if ctrl.Type == protocol.FrameAuthError {
		return fmt.Errorf("%w: %s", ErrAuthRejected, ctrl.Message)
	}
	if ctrl.Type != protocol.FrameAuthenticated {
		return fmt.Errorf("unexpected %s frame during handshake", ctrl.Type)
	}
	return nil
}

func readControl(conn *websocket.Conn, want protocol.FrameType) (protocol.Control, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return protocol.Control{}, err
	}
	ctrl, err := protocol.DecodeServer(data)
	if err != nil {
		return protocol.Control{}, err
	}
	if want != "" && ctrl.Type != want {
		return protocol.Control{}, fmt.Errorf("expected %s, got %s", want, ctrl.Type)
	}
	return ctrl, nil
}
