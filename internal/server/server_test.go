package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"subscription-billing-be/internal/bootstrap"
	"subscription-billing-be/internal/config"
	"subscription-billing-be/internal/dto"
	"subscription-billing-be/internal/entity"
	"subscription-billing-be/internal/pkg/logger"
	"subscription-billing-be/internal/pkg/serverutils"
	"subscription-billing-be/internal/repository/memory"
	"subscription-billing-be/internal/repository/unitofwork"
	"subscription-billing-be/internal/service"
	"subscription-billing-be/pkg/gateway/sandbox"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

const (
	jwtSecret     = "test-secret"
	webhookSecret = "whsec_test"
	billingKey    = "bk_api_test"
)

type APISuite struct {
	suite.Suite
	app     *fiber.App
	factory unitofwork.RepositoryFactory
	gw      *sandbox.Gateway
	user    *entity.User
	admin   *entity.User
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Port: "0", Environment: "test", CorsAllowedOrigins: "http://localhost:5173"},
		Gateway: config.GatewayConfig{
			Provider:      "sandbox",
			WebhookSecret: webhookSecret,
			Currency:      "IDR",
			Timeout:       5 * time.Second,
		},
		Scheduler: config.SchedulerConfig{RenewalSpec: "@every 24h", ReconcileSpec: "@every 1h", HousekeepingSpec: "0 5 * * *"},
		Redis:     config.RedisConfig{LockTTL: time.Minute},
		Auth:      config.AuthConfig{JwtSecret: jwtSecret},
	}
}

func (s *APISuite) SetupTest() {
	ctx := context.Background()
	s.factory = memory.NewRepositoryFactory(memory.NewStore())
	s.Require().NoError(bootstrap.SeedCatalog(ctx, s.factory))

	s.gw = sandbox.New()
	s.gw.AddInstrument(billingKey, "VISA", "4111-****-****-1111")

	users := s.factory.NewUnitOfWork(ctx).UserRepository()
	s.user = &entity.User{Email: "sub@example.com", Role: entity.UserRoleUser, SubStatus: entity.SubscriberStatusNone, IsActive: true}
	s.admin = &entity.User{Email: "admin@example.com", Role: entity.UserRoleAdmin, SubStatus: entity.SubscriberStatusNone, IsActive: true}
	s.Require().NoError(users.Create(ctx, s.user))
	s.Require().NoError(users.Create(ctx, s.admin))

	container := bootstrap.NewContainer(s.factory, testConfig(), bootstrap.Options{Gateway: s.gw, Logger: logger.NewNopLogger()})
	s.app = New(testConfig(), container).GetApp()
}

func (s *APISuite) token(u *entity.User) string {
	token, err := serverutils.SignToken(jwtSecret, u.Id, u.Role)
	s.Require().NoError(err)
	return token
}

func (s *APISuite) do(method, path string, body interface{}, token string) *http.Response {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.app.Test(req, -1)
	s.Require().NoError(err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) serverutils.Response[T] {
	t.Helper()
	defer resp.Body.Close()
	var out serverutils.Response[T]
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (s *APISuite) proPlan() dto.PlanResponse {
	resp := s.do(http.MethodGet, "/api/plans", nil, "")
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	plans := decode[[]dto.PlanResponse](s.T(), resp)
	for _, p := range plans.Data {
		if p.Name == "Pro" {
			return p
		}
	}
	s.FailNow("Pro plan not seeded")
	return dto.PlanResponse{}
}

func (s *APISuite) TestSubscriberFlow() {
	t := s.T()
	token := s.token(s.user)
	plan := s.proPlan()

	resp := s.do(http.MethodPost, "/api/payment/instruments", dto.RegisterInstrumentRequest{Token: billingKey}, token)
	s.Require().Equal(http.StatusCreated, resp.StatusCode)
	ins := decode[dto.InstrumentResponse](t, resp)
	assert.Equal(t, "active", ins.Data.Status)

	resp = s.do(http.MethodPost, "/api/subscriptions", dto.ActivateSubscriptionRequest{PlanId: plan.Id}, token)
	s.Require().Equal(http.StatusCreated, resp.StatusCode)
	activated := decode[dto.TransitionResponse](t, resp)
	s.Require().NotNil(activated.Data.Subscription)
	assert.Equal(t, "active", activated.Data.Subscription.Status)
	s.Require().NotNil(activated.Data.Payment)
	assert.True(t, plan.Price.Equal(activated.Data.Payment.Amount))

	resp = s.do(http.MethodPost, "/api/subscriptions", dto.ActivateSubscriptionRequest{PlanId: plan.Id}, token)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = s.do(http.MethodGet, "/api/subscriptions/"+plan.Id.String()+"/refund-quote", nil, token)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	quote := decode[dto.RefundQuoteResponse](t, resp)
	assert.Equal(t, "refundable", quote.Data.Outcome)

	resp = s.do(http.MethodPost, "/api/subscriptions/"+plan.Id.String()+"/cancel", dto.CancelSubscriptionRequest{Reason: "other"}, token)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "other requires other_reason")

	resp = s.do(http.MethodPost, "/api/subscriptions/"+plan.Id.String()+"/cancel", dto.CancelSubscriptionRequest{Reason: "expensive"}, token)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	cancelled := decode[dto.CancelSubscriptionResponse](t, resp)
	assert.True(t, cancelled.Data.RefundedAmount.IsPositive())

	resp = s.do(http.MethodGet, "/api/subscriptions/history?status=cancel", nil, token)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	history := decode[dto.Page[dto.HistoryResponse]](t, resp)
	assert.EqualValues(t, 1, history.Data.Total)
}

func (s *APISuite) TestAuthentication() {
	tests := []struct {
		name   string
		method string
		path   string
		token  string
		status int
	}{
		{"no token", http.MethodGet, "/api/subscriptions", "", http.StatusUnauthorized},
		{"forged token", http.MethodGet, "/api/subscriptions", "not-a-jwt", http.StatusUnauthorized},
		{"subscriber on admin route", http.MethodGet, "/api/admin/sales", s.token(s.user), http.StatusForbidden},
		{"admin on admin route", http.MethodGet, "/api/admin/sales", s.token(s.admin), http.StatusOK},
		{"missing instrument", http.MethodGet, "/api/payment/instruments", s.token(s.user), http.StatusNotFound},
		{"bad plan id", http.MethodPost, "/api/subscriptions/nope/pause", s.token(s.user), http.StatusBadRequest},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			resp := s.do(tt.method, tt.path, nil, tt.token)
			s.Equal(tt.status, resp.StatusCode)
		})
	}
}

func (s *APISuite) TestAdminOperations() {
	token := s.token(s.admin)

	resp := s.do(http.MethodPost, "/api/admin/renewals/run", nil, token)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	batch := decode[map[string]interface{}](s.T(), resp)
	s.EqualValues(0, batch.Data["processed"])

	resp = s.do(http.MethodPost, "/api/admin/refunds/reconcile", nil, token)
	s.Equal(http.StatusOK, resp.StatusCode)

	resp = s.do(http.MethodGet, "/api/admin/sales?from=2026-01&to=2026-03", nil, token)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	sales := decode[dto.SalesReportResponse](s.T(), resp)
	s.Len(sales.Data.Months, 3)

	resp = s.do(http.MethodGet, "/api/admin/sales?from=January", nil, token)
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *APISuite) TestWebhook() {
	body := []byte(`{"payment_reference":"tx-unknown","status":"paid","amount":"30000"}`)

	req := httptest.NewRequest(http.MethodPost, "/api/payment/webhook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", "deadbeef")
	resp, err := s.app.Test(req, -1)
	s.Require().NoError(err)
	s.Equal(http.StatusUnauthorized, resp.StatusCode)

	req = httptest.NewRequest(http.MethodPost, "/api/payment/webhook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", service.Sign(body, webhookSecret))
	resp, err = s.app.Test(req, -1)
	s.Require().NoError(err)
	s.Equal(http.StatusNotFound, resp.StatusCode)
}

func (s *APISuite) TestMetrics() {
	s.do(http.MethodGet, "/api/plans", nil, "")
	resp := s.do(http.MethodGet, "/metrics", nil, "")
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	s.Contains(string(raw), "go_goroutines")
}

func TestAPISuite(t *testing.T) {
	suite.Run(t, new(APISuite))
}
