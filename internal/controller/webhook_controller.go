package controller

import (
	"errors"

	"subscription-billing-be/internal/pkg/serverutils"
	"subscription-billing-be/internal/service"

	"github.com/gofiber/fiber/v2"
)

const SignatureHeader = "X-Webhook-Signature"

type IWebhookController interface {
	RegisterRoutes(r fiber.Router)
	Notification(ctx *fiber.Ctx) error
}

type webhookController struct {
	service service.IWebhookService
}

func NewWebhookController(service service.IWebhookService) IWebhookController {
	return &webhookController{service: service}
}

func (c *webhookController) RegisterRoutes(r fiber.Router) {
	r.Post("/payment/webhook", c.Notification)
}

// Notification takes payment status callbacks from the gateway. The raw body
// is verified before it is parsed.
func (c *webhookController) Notification(ctx *fiber.Ctx) error {
	// fasthttp reuses the body buffer once the handler returns.
	body := append([]byte(nil), ctx.Body()...)

	res, err := c.service.HandleNotification(ctx.UserContext(), body, ctx.Get(SignatureHeader))
	if err != nil {
		if errors.Is(err, service.ErrInvalidSignature) {
			return ctx.Status(fiber.StatusUnauthorized).JSON(serverutils.ErrorResponse(fiber.StatusUnauthorized, "invalid signature"))
		}
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse(res.Message, res))
}
