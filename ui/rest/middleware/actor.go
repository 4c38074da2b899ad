package middleware

import (
	"context"
	"strings"

	"github.com/AzielCF/az-connect/connection/domain"
	"github.com/gofiber/fiber/v2"
)

const (
	HeaderWorkspaceID = "X-Workspace-ID"
	HeaderUserID      = "X-User-ID"

	actorKey = "actor"
)

type actorCtxKey struct{}

// Actor reads the caller identity set by the upstream gateway. Requests
// without a workspace still pass; services reject them where it matters.
func Actor() fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor := domain.Actor{
			UserID:      strings.TrimSpace(c.Get(HeaderUserID)),
			WorkspaceID: strings.TrimSpace(c.Get(HeaderWorkspaceID)),
		}
		c.Locals(actorKey, actor)
		c.SetUserContext(context.WithValue(c.UserContext(), actorCtxKey{}, actor))
		return c.Next()
	}
}

func ActorFrom(c *fiber.Ctx) domain.Actor {
	if actor, ok := c.Locals(actorKey).(domain.Actor); ok {
		return actor
	}
	return ActorFromContext(c.UserContext())
}

func ActorFromContext(ctx context.Context) domain.Actor {
	actor, _ := ctx.Value(actorCtxKey{}).(domain.Actor)
	return actor
}
