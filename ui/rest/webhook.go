package rest

import (
	"github.com/AzielCF/az-connect/connection/application"
	pkgError "github.com/AzielCF/az-connect/pkg/error"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// Webhook receives Evolution callbacks. It is mounted outside basic auth and
// authenticates every call with the per-channel secret instead.
type Webhook struct {
	Receiver *application.Receiver
}

func InitRestWebhook(app fiber.Router, receiver *application.Receiver) Webhook {
	handler := Webhook{Receiver: receiver}

	group := app.Group("/webhook/evolution")
	group.Post("/", handler.Receive)
	group.Post("/:event", handler.Receive)

	return handler
}

func (h *Webhook) Receive(c *fiber.Ctx) error {
	secret := c.Get(application.SecretHeader)
	if secret == "" {
		secret = c.Get("apikey")
	}

	ack, err := h.Receiver.Handle(c.UserContext(), application.WebhookRequest{
		Secret:    secret,
		Body:      c.Body(),
		PathEvent: c.Params("event"),
	})
	if err != nil {
		status := fiber.StatusInternalServerError
		if ge, ok := pkgError.AsGeneric(err); ok {
			status = ge.StatusCode()
		}
		if status >= fiber.StatusInternalServerError {
			logrus.WithError(err).Error("[WEBHOOK] failed to handle callback")
		} else {
			logrus.WithField("ip", c.IP()).Debugf("[WEBHOOK] rejected: %v", err)
		}
		return c.Status(status).JSON(fiber.Map{"success": false, "error": err.Error()})
	}
	return c.JSON(ack)
}
