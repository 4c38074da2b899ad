package rest

import (
	"errors"

	"github.com/AzielCF/az-connect/connection/application"
	"github.com/AzielCF/az-connect/connection/domain"
	pkgError "github.com/AzielCF/az-connect/pkg/error"
	"github.com/AzielCF/az-connect/pkg/utils"
	"github.com/AzielCF/az-connect/ui/rest/middleware"
	"github.com/gofiber/fiber/v2"
)

type Message struct {
	Router *application.Router
}

func InitRestMessage(app fiber.Router, router *application.Router) Message {
	handler := Message{Router: router}
	app.Post("/messages", handler.Send)
	return handler
}

func (h *Message) Send(c *fiber.Ctx) error {
	var request domain.OutboundMessage
	if err := c.BodyParser(&request); err != nil {
		panic(pkgError.ValidationError("invalid request body: " + err.Error()))
	}

	res, err := h.Router.Send(c.UserContext(), middleware.ActorFrom(c), request)
	var routing *application.RoutingError
	if errors.As(err, &routing) {
		// attempts are part of the answer, not only the message
		return c.Status(routing.StatusCode()).JSON(utils.ResponseData{
			Status:  routing.StatusCode(),
			Code:    routing.ErrCode(),
			Message: routing.Error(),
			Results: routing,
		})
	}
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  fiber.StatusOK,
		Code:    "SUCCESS",
		Message: "Message sent via " + res.Path,
		Results: res,
	})
}
