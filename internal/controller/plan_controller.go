package controller

import (
	"subscription-billing-be/internal/pkg/serverutils"
	"subscription-billing-be/internal/service"

	"github.com/gofiber/fiber/v2"
)

type IPlanController interface {
	RegisterRoutes(r fiber.Router)
}

type planController struct {
	service service.ISubscriptionService
}

func NewPlanController(service service.ISubscriptionService) IPlanController {
	return &planController{service: service}
}

func (c *planController) RegisterRoutes(r fiber.Router) {
	r.Get("/plans", c.GetPlans)
}

// GetPlans lists the plans open for activation.
// @Tags Plans
// @Produce json
// @Router /api/plans [get]
func (c *planController) GetPlans(ctx *fiber.Ctx) error {
	plans, err := c.service.GetPlans(ctx.Context())
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Plans retrieved", plans))
}
