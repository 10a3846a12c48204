package controller

import (
	"subscription-billing-be/internal/dto"
	"subscription-billing-be/internal/pkg/serverutils"
	"subscription-billing-be/internal/service"

	"github.com/gofiber/fiber/v2"
)

type IInstrumentController interface {
	RegisterRoutes(r fiber.Router)
	Get(ctx *fiber.Ctx) error
	Register(ctx *fiber.Ctx) error
	Rotate(ctx *fiber.Ctx) error
	Delete(ctx *fiber.Ctx) error
}

type instrumentController struct {
	service service.IInstrumentService
	auth    fiber.Handler
}

func NewInstrumentController(service service.IInstrumentService, auth fiber.Handler) IInstrumentController {
	return &instrumentController{service: service, auth: auth}
}

func (c *instrumentController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/payment/instruments", c.auth)
	h.Get("/", c.Get)
	h.Post("/", c.Register)
	h.Put("/", c.Rotate)
	h.Delete("/", c.Delete)
}

func (c *instrumentController) Get(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}
	res, err := c.service.Get(ctx.UserContext(), userId)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Payment instrument", res))
}

func (c *instrumentController) Register(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}
	var req dto.RegisterInstrumentRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.service.Register(ctx.UserContext(), userId, &req)
	if err != nil {
		return err
	}
	return ctx.Status(fiber.StatusCreated).JSON(serverutils.SuccessResponse("Payment instrument registered", res))
}

func (c *instrumentController) Rotate(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}
	var req dto.RegisterInstrumentRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.service.Rotate(ctx.UserContext(), userId, &req)
	if err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse("Payment instrument replaced", res))
}

func (c *instrumentController) Delete(ctx *fiber.Ctx) error {
	userId, err := serverutils.UserID(ctx)
	if err != nil {
		return err
	}
	var req dto.DeleteInstrumentRequest
	if len(ctx.Body()) > 0 {
		if err := ctx.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}

	if err := c.service.Delete(ctx.UserContext(), userId, &req); err != nil {
		return err
	}
	return ctx.JSON(serverutils.SuccessResponse[any]("Payment instrument deleted", nil))
}
