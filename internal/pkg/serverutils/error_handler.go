package serverutils

import (
	"errors"

	"subscription-billing-be/pkg/billing"

	"github.com/gofiber/fiber/v2"
)

var kindStatus = map[billing.Kind]int{
	billing.KindValidation:  fiber.StatusBadRequest,
	billing.KindNotFound:    fiber.StatusNotFound,
	billing.KindConflict:    fiber.StatusConflict,
	billing.KindConsistency: fiber.StatusConflict,
	billing.KindGateway:     fiber.StatusBadGateway,
}

// StatusOf maps an error returned by a handler to its HTTP status.
func StatusOf(err error) int {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return fiber.StatusBadRequest
	}
	if status, ok := kindStatus[billing.KindOf(err)]; ok {
		return status
	}
	return fiber.StatusInternalServerError
}

// ErrorHandlerMiddleware turns handler errors into ErrorResponse bodies.
// Internal errors never leak their text.
func ErrorHandlerMiddleware() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		err := ctx.Next()
		if err == nil {
			return nil
		}

		status := StatusOf(err)
		message := billing.PublicMessage(err)
		var fe *fiber.Error
		var ve *ValidationError
		switch {
		case errors.As(err, &fe):
			message = fe.Message
		case errors.As(err, &ve):
			message = ve.Error()
		}
		return ctx.Status(status).JSON(ErrorResponse(status, message))
	}
}
