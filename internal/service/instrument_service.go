package service

import (
	"context"

	"subscription-billing-be/internal/dto"
	"subscription-billing-be/internal/repository/unitofwork"
	"subscription-billing-be/pkg/admin/mapper"
	"subscription-billing-be/pkg/billing"
	"subscription-billing-be/pkg/billing/instrument"

	"github.com/google/uuid"
)

type IInstrumentService interface {
	Get(ctx context.Context, userId uuid.UUID) (*dto.InstrumentResponse, error)
	Register(ctx context.Context, userId uuid.UUID, req *dto.RegisterInstrumentRequest) (*dto.InstrumentResponse, error)
	Rotate(ctx context.Context, userId uuid.UUID, req *dto.RegisterInstrumentRequest) (*dto.InstrumentResponse, error)
	Delete(ctx context.Context, userId uuid.UUID, req *dto.DeleteInstrumentRequest) error
}

type instrumentService struct {
	uowFactory unitofwork.RepositoryFactory
	manager    *instrument.Manager
}

func NewInstrumentService(uowFactory unitofwork.RepositoryFactory, manager *instrument.Manager) IInstrumentService {
	return &instrumentService{
		uowFactory: uowFactory,
		manager:    manager,
	}
}

func (s *instrumentService) Get(ctx context.Context, userId uuid.UUID) (*dto.InstrumentResponse, error) {
	ins, err := s.uowFactory.NewUnitOfWork(ctx).InstrumentRepository().FindByUser(ctx, userId)
	if err != nil {
		return nil, err
	}
	if ins == nil {
		return nil, billing.E(billing.KindNotFound, "get_instrument", billing.ErrInstrumentMissing.Error(), billing.ErrInstrumentMissing)
	}
	return mapper.InstrumentToResponse(ins), nil
}

func (s *instrumentService) Register(ctx context.Context, userId uuid.UUID, req *dto.RegisterInstrumentRequest) (*dto.InstrumentResponse, error) {
	ins, err := s.manager.Register(ctx, userId, req.Token)
	if err != nil {
		return nil, err
	}
	return mapper.InstrumentToResponse(ins), nil
}

func (s *instrumentService) Rotate(ctx context.Context, userId uuid.UUID, req *dto.RegisterInstrumentRequest) (*dto.InstrumentResponse, error) {
	ins, err := s.manager.Rotate(ctx, userId, req.Token)
	if err != nil {
		return nil, err
	}
	return mapper.InstrumentToResponse(ins), nil
}

func (s *instrumentService) Delete(ctx context.Context, userId uuid.UUID, req *dto.DeleteInstrumentRequest) error {
	reason := req.Reason
	if reason == "" {
		reason = "requested by subscriber"
	}
	return s.manager.Delete(ctx, userId, reason)
}
