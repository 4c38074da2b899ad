package rest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/AzielCF/az-connect/connection/application"
	"github.com/AzielCF/az-connect/pkg/eventbroker"
	"github.com/AzielCF/az-connect/pkg/utils"
	"github.com/AzielCF/az-connect/ui/rest/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"
)

const sseHeartbeat = 15 * time.Second

// Events streams qrcode/state/success events of one connection as
// server-sent events while a reconcile session keeps it in sync.
type Events struct {
	Service    *application.LifecycleService
	Reconciler *application.Reconciler
	// Base outlives single requests and is cancelled on shutdown.
	Base context.Context
}

func InitRestEvents(app fiber.Router, base context.Context, service *application.LifecycleService, reconciler *application.Reconciler) Events {
	if base == nil {
		base = context.Background()
	}
	handler := Events{Service: service, Reconciler: reconciler, Base: base}
	app.Get("/connections/:instance/events", handler.Stream)
	return handler
}

func (h *Events) Stream(c *fiber.Ctx) error {
	instance := c.Params("instance")
	_, err := h.Service.GetByInstance(c.UserContext(), middleware.ActorFrom(c), instance)
	utils.PanicIfNeeded(err)

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	session := h.Reconciler.Attach(h.Base, instance)
	logrus.Debugf("[SSE] stream opened for %s", instance)

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer session.Detach()
		defer logrus.Debugf("[SSE] stream closed for %s", instance)

		heartbeat := time.NewTicker(sseHeartbeat)
		defer heartbeat.Stop()

		for {
			select {
			case evt, ok := <-session.Events:
				if !ok {
					return
				}
				if err := writeSSE(w, evt); err != nil {
					return
				}
			case <-heartbeat.C:
				if _, err := w.WriteString(": ping\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	}))
	return nil
}

func writeSSE(w *bufio.Writer, evt eventbroker.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		logrus.WithError(err).Warn("[SSE] cannot encode event")
		return nil
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Name, data); err != nil {
		return err
	}
	return w.Flush()
}
