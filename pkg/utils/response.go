package utils

import (
	pkgError "github.com/AzielCF/az-connect/pkg/error"
	"github.com/gofiber/fiber/v2"
)

type ResponseData struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Results any    `json:"results,omitempty"`
}

// PanicIfNeeded hands err to the recovery middleware, which renders it.
func PanicIfNeeded(err any) {
	if err != nil {
		panic(err)
	}
}

// ErrorData builds the envelope for err, using the status carried by typed
// errors or 500 for anything else.
func ErrorData(err error) ResponseData {
	if ge, ok := pkgError.AsGeneric(err); ok {
		return ResponseData{Status: ge.StatusCode(), Code: ge.ErrCode(), Message: ge.Error()}
	}
	return ResponseData{
		Status:  fiber.StatusInternalServerError,
		Code:    "INTERNAL_SERVER_ERROR",
		Message: err.Error(),
	}
}
