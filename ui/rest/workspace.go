package rest

import (
	"github.com/AzielCF/az-connect/connection/domain"
	pkgError "github.com/AzielCF/az-connect/pkg/error"
	"github.com/AzielCF/az-connect/pkg/utils"
	"github.com/AzielCF/az-connect/ui/rest/middleware"
	"github.com/AzielCF/az-connect/validations"
	"github.com/gofiber/fiber/v2"
)

type Workspace struct {
	Repo domain.WorkspaceRepository
}

func InitRestWorkspace(app fiber.Router, repo domain.WorkspaceRepository) Workspace {
	handler := Workspace{Repo: repo}

	group := app.Group("/workspaces")
	group.Get("/:id", handler.Get)
	group.Put("/:id/automation", handler.UpdateAutomation)

	return handler
}

// authorize only lets an actor touch its own workspace.
func (h *Workspace) authorize(c *fiber.Ctx) string {
	actor := middleware.ActorFrom(c)
	id := c.Params("id")
	if actor.WorkspaceID == "" {
		panic(pkgError.UnauthorizedError("workspace context is required"))
	}
	if actor.WorkspaceID != id {
		panic(domain.ErrWorkspaceNotFound)
	}
	return id
}

func (h *Workspace) Get(c *fiber.Ctx) error {
	id := h.authorize(c)
	ws, err := h.Repo.Ensure(c.UserContext(), id)
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  fiber.StatusOK,
		Code:    "SUCCESS",
		Message: "Workspace retrieved",
		Results: ws,
	})
}

func (h *Workspace) UpdateAutomation(c *fiber.Ctx) error {
	id := h.authorize(c)

	var request domain.AutomationRequest
	if err := c.BodyParser(&request); err != nil {
		panic(pkgError.ValidationError("invalid request body: " + err.Error()))
	}
	utils.PanicIfNeeded(validations.ValidateAutomation(c.UserContext(), request))

	_, err := h.Repo.Ensure(c.UserContext(), id)
	utils.PanicIfNeeded(err)
	err = h.Repo.UpdateAutomation(c.UserContext(), id, domain.Automation{URL: request.URL, Secret: request.Secret})
	utils.PanicIfNeeded(err)

	return c.JSON(utils.ResponseData{
		Status:  fiber.StatusOK,
		Code:    "SUCCESS",
		Message: "Automation webhook updated",
		Results: fiber.Map{"enabled": request.URL != ""},
	})
}
