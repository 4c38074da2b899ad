package middleware

import (
	"fmt"

	"github.com/AzielCF/az-connect/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

func Recovery() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		defer func() {
			recovered := recover()
			if recovered == nil {
				return
			}

			err, ok := recovered.(error)
			if !ok {
				err = fmt.Errorf("%v", recovered)
			}
			res := utils.ErrorData(err)

			if res.Status >= fiber.StatusInternalServerError {
				logrus.WithField("path", ctx.Path()).Errorf("[REST] panic recovered: %v", recovered)
			} else {
				logrus.Debugf("[REST] request rejected: %s (%s)", res.Message, res.Code)
			}

			_ = ctx.Status(res.Status).JSON(res)
		}()

		return ctx.Next()
	}
}
