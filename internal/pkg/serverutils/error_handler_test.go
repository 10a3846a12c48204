package serverutils

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"

	"subscription-billing-be/internal/entity"
	"subscription-billing-be/pkg/billing"
	"subscription-billing-be/pkg/gateway"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"fiber error", fiber.NewError(fiber.StatusUnauthorized, "nope"), fiber.StatusUnauthorized},
		{"validation", &ValidationError{Fields: map[string]string{"Reason": "required"}}, fiber.StatusBadRequest},
		{"not found", fmt.Errorf("cancel: %w", billing.ErrSubscriptionNotFound), fiber.StatusNotFound},
		{"conflict", billing.ErrAlreadySubscribed, fiber.StatusConflict},
		{"consistency", billing.ErrRefundOutcomeUnknown, fiber.StatusConflict},
		{"gateway", gateway.NewError("charge", gateway.ErrChargeFailed, "DECLINED", "card declined"), fiber.StatusBadGateway},
		{"internal", errors.New("disk on fire"), fiber.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusOf(tt.err))
		})
	}
}

func TestErrorHandlerHidesInternalErrors(t *testing.T) {
	app := fiber.New()
	app.Use(ErrorHandlerMiddleware())
	app.Get("/internal", func(ctx *fiber.Ctx) error { return errors.New("pq: password authentication failed") })
	app.Get("/conflict", func(ctx *fiber.Ctx) error { return billing.ErrAlreadySubscribed })
	app.Get("/ok", func(ctx *fiber.Ctx) error { return ctx.JSON(SuccessResponse("fine", 1)) })

	tests := []struct {
		path    string
		status  int
		message string
	}{
		{"/internal", fiber.StatusInternalServerError, "internal server error"},
		{"/conflict", fiber.StatusConflict, billing.ErrAlreadySubscribed.Error()},
		{"/ok", fiber.StatusOK, "fine"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := app.Test(httptest.NewRequest("GET", tt.path, nil))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)

			var body Response[json.RawMessage]
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.message, body.Message)
			assert.Equal(t, tt.status == fiber.StatusOK, body.Success)
		})
	}
}

func TestValidateRequest(t *testing.T) {
	type cancelRequest struct {
		Reason string `validate:"required,oneof=expensive other"`
		Text   string `validate:"omitempty,max=5"`
	}

	assert.NoError(t, ValidateRequest(cancelRequest{Reason: "expensive"}))

	err := ValidateRequest(cancelRequest{Reason: "bored", Text: "too long"})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, map[string]string{"Reason": "oneof=expensive other", "Text": "max=5"}, ve.Fields)
	assert.Contains(t, ve.Error(), "validation failed")
}

func TestJwtMiddleware(t *testing.T) {
	const secret = "test-secret"
	app := fiber.New()
	app.Use(ErrorHandlerMiddleware())
	app.Get("/me", JwtMiddleware(secret), func(ctx *fiber.Ctx) error {
		id, err := UserID(ctx)
		if err != nil {
			return err
		}
		return ctx.SendString(id.String())
	})
	app.Get("/admin", JwtMiddleware(secret), AdminMiddleware, func(ctx *fiber.Ctx) error {
		return ctx.SendStatus(fiber.StatusNoContent)
	})

	userID := uuid.New()
	subscriber, err := SignToken(secret, userID, entity.UserRoleUser)
	require.NoError(t, err)
	admin, err := SignToken(secret, uuid.New(), entity.UserRoleAdmin)
	require.NoError(t, err)
	forged, err := SignToken("other-secret", userID, entity.UserRoleAdmin)
	require.NoError(t, err)

	tests := []struct {
		name   string
		path   string
		token  string
		status int
	}{
		{"missing", "/me", "", fiber.StatusUnauthorized},
		{"forged", "/me", forged, fiber.StatusUnauthorized},
		{"subscriber", "/me", subscriber, fiber.StatusOK},
		{"subscriber on admin route", "/admin", subscriber, fiber.StatusForbidden},
		{"admin", "/admin", admin, fiber.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.path, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
			if tt.status == fiber.StatusOK {
				body, _ := io.ReadAll(resp.Body)
				assert.Equal(t, userID.String(), string(body))
			}
		})
	}
}
