package rest

import (
	"github.com/AzielCF/az-connect/connection/application"
	"github.com/AzielCF/az-connect/connection/domain"
	pkgError "github.com/AzielCF/az-connect/pkg/error"
	"github.com/AzielCF/az-connect/pkg/utils"
	"github.com/AzielCF/az-connect/ui/rest/middleware"
	"github.com/gofiber/fiber/v2"
)

type Connection struct {
	Service *application.LifecycleService
}

func InitRestConnection(app fiber.Router, service *application.LifecycleService) Connection {
	handler := Connection{Service: service}

	group := app.Group("/connections")
	group.Post("/", handler.Create)
	group.Get("/", handler.List)
	group.Get("/:id", handler.Get)
	group.Get("/:id/status", handler.Status)
	group.Get("/:id/qr", handler.QRCode)
	group.Post("/:id/reconnect", handler.Reconnect)
	group.Post("/:id/pause", handler.Pause)
	group.Post("/:id/rotate-secret", handler.RotateSecret)
	group.Get("/:id/inspect", handler.Inspect)
	group.Delete("/:id", handler.Delete)

	return handler
}

func (h *Connection) Create(c *fiber.Ctx) error {
	var request domain.CreateRequest
	if err := c.BodyParser(&request); err != nil {
		panic(pkgError.ValidationError("invalid request body: " + err.Error()))
	}

	res, err := h.Service.Create(c.UserContext(), middleware.ActorFrom(c), request)
	utils.PanicIfNeeded(err)

	return c.Status(fiber.StatusCreated).JSON(utils.ResponseData{
		Status:  fiber.StatusCreated,
		Code:    "SUCCESS",
		Message: "Connection created, store the webhook secret now: it is not shown again",
		Results: res,
	})
}

func (h *Connection) List(c *fiber.Ctx) error {
	res, err := h.Service.List(c.UserContext(), middleware.ActorFrom(c))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  fiber.StatusOK,
		Code:    "SUCCESS",
		Message: "Connections retrieved",
		Results: res,
	})
}

func (h *Connection) Get(c *fiber.Ctx) error {
	conn, err := h.Service.Get(c.UserContext(), middleware.ActorFrom(c), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  fiber.StatusOK,
		Code:    "SUCCESS",
		Message: "Connection retrieved",
		Results: conn,
	})
}

func (h *Connection) Status(c *fiber.Ctx) error {
	conn, err := h.Service.Status(c.UserContext(), middleware.ActorFrom(c), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  fiber.StatusOK,
		Code:    "SUCCESS",
		Message: "Connection status refreshed",
		Results: conn,
	})
}

func (h *Connection) QRCode(c *fiber.Ctx) error {
	res, err := h.Service.QRCode(c.UserContext(), middleware.ActorFrom(c), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  fiber.StatusOK,
		Code:    "SUCCESS",
		Message: "QR code retrieved",
		Results: res,
	})
}

func (h *Connection) Reconnect(c *fiber.Ctx) error {
	conn, err := h.Service.Reconnect(c.UserContext(), middleware.ActorFrom(c), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  fiber.StatusOK,
		Code:    "SUCCESS",
		Message: "Reconnect requested",
		Results: conn,
	})
}

func (h *Connection) Pause(c *fiber.Ctx) error {
	conn, err := h.Service.Pause(c.UserContext(), middleware.ActorFrom(c), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  fiber.StatusOK,
		Code:    "SUCCESS",
		Message: "Connection paused",
		Results: conn,
	})
}

func (h *Connection) RotateSecret(c *fiber.Ctx) error {
	secret, err := h.Service.RotateSecret(c.UserContext(), middleware.ActorFrom(c), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  fiber.StatusOK,
		Code:    "SUCCESS",
		Message: "Webhook secret rotated",
		Results: fiber.Map{"webhook_secret": secret},
	})
}

func (h *Connection) Inspect(c *fiber.Ctx) error {
	res, err := h.Service.Inspect(c.UserContext(), middleware.ActorFrom(c), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  fiber.StatusOK,
		Code:    "SUCCESS",
		Message: "Connection inspected",
		Results: res,
	})
}

func (h *Connection) Delete(c *fiber.Ctx) error {
	err := h.Service.Delete(c.UserContext(), middleware.ActorFrom(c), c.Params("id"))
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  fiber.StatusOK,
		Code:    "SUCCESS",
		Message: "Connection deleted",
	})
}
