package mapper

import (
	"subscription-billing-be/internal/entity"
	"subscription-billing-be/internal/model"
)

type UserMapper struct{}

func NewUserMapper() *UserMapper {
	return &UserMapper{}
}

func (m *UserMapper) ToEntity(u *model.User) *entity.User {
	if u == nil {
		return nil
	}
	return &entity.User{
		Id:                u.Id,
		Email:             u.Email,
		FullName:          u.FullName,
		Phone:             u.Phone,
		Role:              entity.UserRole(u.Role),
		SubStatus:         entity.SubscriberStatus(u.SubStatus),
		IsActive:          u.IsActive,
		DeletionConfirmed: u.DeletionConfirmed,
		DeletedAt:         u.DeletedAt,
		CreatedAt:         u.CreatedAt,
		UpdatedAt:         u.UpdatedAt,
	}
}

func (m *UserMapper) ToModel(u *entity.User) *model.User {
	if u == nil {
		return nil
	}
	return &model.User{
		Id:                u.Id,
		Email:             u.Email,
		FullName:          u.FullName,
		Phone:             u.Phone,
		Role:              string(u.Role),
		SubStatus:         string(u.SubStatus),
		IsActive:          u.IsActive,
		DeletionConfirmed: u.DeletionConfirmed,
		DeletedAt:         u.DeletedAt,
		CreatedAt:         u.CreatedAt,
		UpdatedAt:         u.UpdatedAt,
	}
}
