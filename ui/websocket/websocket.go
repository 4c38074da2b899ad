package websocket

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/AzielCF/az-connect/connection/application"
	"github.com/AzielCF/az-connect/connection/domain"
	"github.com/AzielCF/az-connect/pkg/eventbroker"
	"github.com/AzielCF/az-connect/ui/rest/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
)

const (
	CodeEvent       = "EVENT"
	CodeFetchStatus = "FETCH_STATUS"
	CodeStatus      = "STATUS"
	CodeError       = "ERROR"

	writeTimeout = 10 * time.Second
	actorLocal   = "ws_actor"
)

// Message is the envelope exchanged with websocket clients.
type Message struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
	Result  any    `json:"result,omitempty"`
}

type Handler struct {
	Service    *application.LifecycleService
	Reconciler *application.Reconciler
	Base       context.Context
}

// RegisterRoutes mounts GET /ws/connections/:instance on an authenticated group.
func RegisterRoutes(app fiber.Router, h Handler) {
	if h.Base == nil {
		h.Base = context.Background()
	}

	app.Use("/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return c.SendStatus(fiber.StatusUpgradeRequired)
		}
		return c.Next()
	})

	app.Get("/ws/connections/:instance", h.authorize, websocket.New(h.serve))
}

// authorize runs before the upgrade so foreign instances get a plain 404.
func (h Handler) authorize(c *fiber.Ctx) error {
	actor := middleware.ActorFrom(c)
	if _, err := h.Service.GetByInstance(c.UserContext(), actor, c.Params("instance")); err != nil {
		panic(err)
	}
	c.Locals(actorLocal, actor)
	return c.Next()
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) send(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (h Handler) serve(conn *websocket.Conn) {
	instance := conn.Params("instance")
	actor, _ := conn.Locals(actorLocal).(domain.Actor)
	cl := &client{conn: conn}

	session := h.Reconciler.Attach(h.Base, instance)
	defer func() {
		session.Detach()
		cl.mu.Lock()
		_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
		cl.mu.Unlock()
		_ = conn.Close()
		logrus.Debugf("[WS] connection closed for %s", instance)
	}()
	logrus.Debugf("[WS] connection registered for %s", instance)

	// reads run apart so a closed socket ends the session promptly
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			messageType, raw, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					logrus.WithError(err).Debug("[WS] read error")
				}
				return
			}
			if messageType != websocket.TextMessage {
				continue
			}
			h.handleRequest(cl, actor, instance, raw)
		}
	}()

	for {
		select {
		case <-closed:
			return
		case evt, ok := <-session.Events:
			if !ok {
				return
			}
			if err := cl.send(eventMessage(evt)); err != nil {
				logrus.WithError(err).Debugf("[WS] write failed for %s", instance)
				return
			}
		}
	}
}

func (h Handler) handleRequest(cl *client, actor domain.Actor, instance string, raw []byte) {
	var req Message
	if err := json.Unmarshal(raw, &req); err != nil {
		_ = cl.send(Message{Code: CodeError, Message: "invalid message"})
		return
	}

	switch strings.ToUpper(req.Code) {
	case CodeFetchStatus:
		conn, err := h.Service.GetByInstance(h.Base, actor, instance)
		if err != nil {
			_ = cl.send(Message{Code: CodeError, Message: err.Error()})
			return
		}
		_ = cl.send(Message{Code: CodeStatus, Message: "Connection found", Result: conn})
	default:
		_ = cl.send(Message{Code: CodeError, Message: "unsupported code " + req.Code})
	}
}

func eventMessage(evt eventbroker.Event) Message {
	return Message{Code: CodeEvent, Message: evt.Name, Result: evt}
}
