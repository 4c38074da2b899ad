package rest

import (
	"context"
	"time"

	"github.com/AzielCF/az-connect/connection/application"
	"github.com/AzielCF/az-connect/connection/domain"
	"github.com/AzielCF/az-connect/pkg/msgworker"
	"github.com/AzielCF/az-connect/ui/rest/middleware"
	"github.com/gofiber/fiber/v2"
)

// Services is everything the HTTP surface needs, built once in cmd.
type Services struct {
	Lifecycle  *application.LifecycleService
	Receiver   *application.Receiver
	Reconciler *application.Reconciler
	Router     *application.Router
	Conns      domain.ConnectionRepository
	Workspaces domain.WorkspaceRepository
	Pool       *msgworker.Pool
	Checks     map[string]Check
	Started    time.Time
	// Base bounds long lived streams and is cancelled on shutdown.
	Base context.Context
}

// RegisterPublic mounts routes that authenticate themselves and must stay
// outside basic auth.
func RegisterPublic(app fiber.Router, svc Services) {
	InitRestWebhook(app, svc.Receiver)
}

// RegisterAPI mounts the authenticated API on an already protected group.
func RegisterAPI(api fiber.Router, svc Services) {
	api.Use(middleware.Actor())

	InitRestHealth(api, svc.Conns, svc.Checks, svc.Started)
	InitRestWorkerPool(api, svc.Pool)
	InitRestConnection(api, svc.Lifecycle)
	InitRestEvents(api, svc.Base, svc.Lifecycle, svc.Reconciler)
	InitRestMessage(api, svc.Router)
	InitRestWorkspace(api, svc.Workspaces)
}
