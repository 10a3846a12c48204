package controller

import (
	"subscription-billing-be/internal/dto"
	"subscription-billing-be/internal/pkg/serverutils"
	"subscription-billing-be/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type ISubscriptionController interface {
	RegisterRoutes(r fiber.Router)
	Activate(ctx *fiber.Ctx) error
	List(ctx *fiber.Ctx) error
	History(ctx *fiber.Ctx) error
	Pause(ctx *fiber.Ctx) error
	Resume(ctx *fiber.Ctx) error
	Cancel(ctx *fiber.Ctx) error
	RefundQuote(ctx *fiber.Ctx) error
}

type subscriptionController struct {
	service service.ISubscriptionService
	auth    fiber.Handler
}

func NewSubscriptionController(service service.ISubscriptionService, auth fiber.Handler) ISubscriptionController {
	return &subscriptionController{service: service, auth: auth}
}

func (c *subscriptionController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/subscriptions", c.auth)
	h.Post("/", c.Activate)
	h.Get("/", c.List)
	h.Get("/history", c.History)
	h.Post("/:planId/pause", c.Pause)
	h.Post("/:planId/resume", c.Resume)
	h.Post("/:planId/cancel", c.Cancel)
	h.Get("/:planId/refund-quote", c.RefundQuote)
}

func respond[T any](ctx *fiber.Ctx, status int, message string, data T, warnings []string) error {
	if len(warnings) > 0 {
		return ctx.Status(status).JSON(serverutils.WarningResponse(message, data, warnings))
	}
	return ctx.Status(status).JSON(serverutils.SuccessResponse(message, data))
}

// target resolves the caller and the :planId path parameter.
func target(ctx *fiber.Ctx) (uuid.UUID, uuid.UUID, error) {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	planId, err := uuid.Parse(ctx.Params("planId"))
	if err != nil {
		return uuid.Nil, uuid.Nil, fiber.NewError(fiber.StatusBadRequest, "invalid plan id")
	}
	return userId, planId, nil
}

func (c *subscriptionController) Activate(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}
	var req dto.ActivateSubscriptionRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, warnings, err := c.service.Activate(ctx.UserContext(), userId, &req)
	if err != nil {
		return err
	}
	return respond(ctx, fiber.StatusCreated, "Subscription activated", res, warnings)
}

func (c *subscriptionController) List(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}
	res, err := c.service.List(ctx.UserContext(), userId)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Subscriptions retrieved", res))
}

func (c *subscriptionController) History(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}
	var q dto.HistoryQuery
	if err := ctx.QueryParser(&q); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid query")
	}
	if err := serverutils.ValidateRequest(q); err != nil {
		return err
	}

	res, err := c.service.History(ctx.UserContext(), userId, &q)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Subscription history", res))
}

func (c *subscriptionController) Pause(ctx *fiber.Ctx) error {
	userId, planId, err := target(ctx)
	if err != nil {
		return err
	}
	res, warnings, err := c.service.Pause(ctx.UserContext(), userId, planId)
	if err != nil {
		return err
	}
	return respond(ctx, fiber.StatusOK, "Subscription paused", res, warnings)
}

func (c *subscriptionController) Resume(ctx *fiber.Ctx) error {
	userId, planId, err := target(ctx)
	if err != nil {
		return err
	}
	res, warnings, err := c.service.Resume(ctx.UserContext(), userId, planId)
	if err != nil {
		return err
	}
	return respond(ctx, fiber.StatusOK, "Subscription resumed", res, warnings)
}

func (c *subscriptionController) Cancel(ctx *fiber.Ctx) error {
	userId, planId, err := target(ctx)
	if err != nil {
		return err
	}
	var req dto.CancelSubscriptionRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, warnings, err := c.service.Cancel(ctx.UserContext(), userId, planId, &req)
	if err != nil {
		return err
	}
	return respond(ctx, fiber.StatusOK, "Subscription cancelled", res, warnings)
}

func (c *subscriptionController) RefundQuote(ctx *fiber.Ctx) error {
	userId, planId, err := target(ctx)
	if err != nil {
		return err
	}
	res, err := c.service.RefundQuote(ctx.UserContext(), userId, planId)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Refund quote", res))
}
