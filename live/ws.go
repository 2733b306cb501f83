package live

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"tasksync/domain"
)

// Authenticator resolves the calling user from an Authorization header.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Publisher fans an event out to every subscriber of a document topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, ev domain.Event) error
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// StreamHandler upgrades the request to a websocket scoped to one document.
// The server pushes every event published on the document topic; the client
// may send cursor_update events, which are stamped with the authenticated
// user and fanned out to the other collaborators.
func StreamHandler(hub *Hub, pub Publisher, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := c.QueryParam("token")
		authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
		if authHeader == "" && token != "" {
			authHeader = "Bearer " + token
		}
		userID, err := auth.UserIDFromAuthHeader(authHeader)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		todoID := c.QueryParam("todoId")
		if todoID == "" {
			return c.String(http.StatusBadRequest, "todoId is required")
		}

		conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			return err
		}

		topic := domain.Topic(todoID)
		ch := hub.Subscribe(topic)
		go writePump(conn, ch)

		readPump(c, conn, pub, topic, userID)
		hub.Unsubscribe(topic, ch)
		_ = conn.Close()
		return nil
	}
}

func writePump(conn *websocket.Conn, ch chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func readPump(c echo.Context, conn *websocket.Conn, pub Publisher, topic, userID string) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	ctx := c.Request().Context()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var ev domain.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			c.Logger().Errorf("unable to parse client message: %v", err)
			continue
		}
		// Clients only produce cursor telemetry; mutations go through the API.
		if ev.Type != domain.EventCursorUpdate {
			continue
		}
		var pos domain.CursorPosition
		if err := json.Unmarshal(ev.Payload, &pos); err != nil {
			c.Logger().Errorf("unable to parse cursor payload: %v", err)
			continue
		}
		pos.UserID = userID
		out, err := domain.NewCursorEvent(pos)
		if err != nil {
			continue
		}
		if err := pub.Publish(ctx, topic, out); err != nil {
			c.Logger().Errorf("cursor publish failed: %v", err)
		}
	}
}
