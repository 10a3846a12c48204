package controller

import (
	"subscription-billing-be/internal/dto"
	"subscription-billing-be/internal/pkg/serverutils"
	"subscription-billing-be/internal/service"

	"github.com/gofiber/fiber/v2"
)

type IAdminController interface {
	RegisterRoutes(r fiber.Router)
	Stats(ctx *fiber.Ctx) error
	CancelReasons(ctx *fiber.Ctx) error
	Sales(ctx *fiber.Ctx) error
	Subscriptions(ctx *fiber.Ctx) error
	Histories(ctx *fiber.Ctx) error
	RunRenewals(ctx *fiber.Ctx) error
	ReconcileRefunds(ctx *fiber.Ctx) error
	Logs(ctx *fiber.Ctx) error
}

type adminController struct {
	service service.IAdminService
	auth    fiber.Handler
}

func NewAdminController(service service.IAdminService, auth fiber.Handler) IAdminController {
	return &adminController{service: service, auth: auth}
}

func (c *adminController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/admin", c.auth, serverutils.AdminMiddleware)

	// Dashboard
	h.Get("/dashboard", c.Stats)
	h.Get("/cancel-reasons/count", c.CancelReasons)
	h.Get("/sales", c.Sales)
	h.Get("/subscriptions", c.Subscriptions)
	h.Get("/histories", c.Histories)

	// Operations
	h.Post("/renewals/run", c.RunRenewals)
	h.Post("/refunds/reconcile", c.ReconcileRefunds)

	// System logs
	h.Get("/logs", c.Logs)
}

func parseQuery[T any](ctx *fiber.Ctx) (*T, error) {
	q := new(T)
	if err := ctx.QueryParser(q); err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "invalid query")
	}
	if err := serverutils.ValidateRequest(q); err != nil {
		return nil, err
	}
	return q, nil
}

func (c *adminController) Stats(ctx *fiber.Ctx) error {
	res, err := c.service.Stats(ctx.UserContext())
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Dashboard stats", res))
}

func (c *adminController) CancelReasons(ctx *fiber.Ctx) error {
	res, err := c.service.CancelReasons(ctx.UserContext())
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Cancellation reasons", res))
}

func (c *adminController) Sales(ctx *fiber.Ctx) error {
	q, err := parseQuery[dto.SalesQuery](ctx)
	if err != nil {
		return err
	}
	res, err := c.service.Sales(ctx.UserContext(), q)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Sales report", res))
}

func (c *adminController) Subscriptions(ctx *fiber.Ctx) error {
	q, err := parseQuery[dto.AdminSubscriptionQuery](ctx)
	if err != nil {
		return err
	}
	res, err := c.service.Subscriptions(ctx.UserContext(), q)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Subscriptions", res))
}

func (c *adminController) Histories(ctx *fiber.Ctx) error {
	q, err := parseQuery[dto.AdminHistoryQuery](ctx)
	if err != nil {
		return err
	}
	res, err := c.service.Histories(ctx.UserContext(), q)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Subscription histories", res))
}

func (c *adminController) RunRenewals(ctx *fiber.Ctx) error {
	res, err := c.service.RunRenewals(ctx.UserContext())
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Renewal sweep finished", res))
}

func (c *adminController) ReconcileRefunds(ctx *fiber.Ctx) error {
	res, err := c.service.ReconcileRefunds(ctx.UserContext())
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Refund reconciliation finished", res))
}

func (c *adminController) Logs(ctx *fiber.Ctx) error {
	q, err := parseQuery[dto.LogQuery](ctx)
	if err != nil {
		return err
	}
	res, err := c.service.Logs(q)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("System logs", res))
}
