package auth

import (
	"context"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/medsolicita/case-api/pkg/errors"

	"github.com/medsolicita/case-api/internal/model"
	"github.com/medsolicita/case-api/internal/repository"
	pkgauth "github.com/medsolicita/case-api/pkg/auth"
)

const bcryptCost = 12

type Service struct {
	userRepo repository.UserRepository
	jwtSvc   pkgauth.JWTService
}

func NewService(userRepo repository.UserRepository, jwtSvc pkgauth.JWTService) *Service {
	return &Service{
		userRepo: userRepo,
		jwtSvc:   jwtSvc,
	}
}

func (s *Service) RegisterPatient(ctx context.Context, req *model.RegisterPatientRequest) (*model.User, error) {
	return s.register(ctx, req.Email, req.Password, req.FullName, model.UserRolePatient, nil)
}

func (s *Service) RegisterDoctor(ctx context.Context, req *model.RegisterDoctorRequest) (*model.User, error) {
	if req.CRM == "" {
		return nil, apperrors.Validation("crm is required for doctors", nil)
	}
	crm := req.CRM
	return s.register(ctx, req.Email, req.Password, req.FullName, model.UserRoleDoctor, &crm)
}

func (s *Service) register(ctx context.Context, email, password, fullName, role string, crm *string) (*model.User, error) {
	if existing, err := s.userRepo.GetByEmail(ctx, email); err == nil && existing != nil {
		return nil, apperrors.Validation("email already registered", nil)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &model.User{
		Email:        email,
		PasswordHash: string(hash),
		FullName:     fullName,
		Role:         role,
		CRM:          crm,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (*model.TokenResponse, error) {
	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		return nil, apperrors.Unauthorized("invalid credentials")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, apperrors.Unauthorized("invalid credentials")
	}

	token, err := s.jwtSvc.GenerateAccessToken(user)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	return &model.TokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
	}, nil
}

func (s *Service) ValidateToken(ctx context.Context, token string) (*model.TokenClaims, error) {
	claims, err := s.jwtSvc.ValidateToken(token)
	if err != nil {
		return nil, apperrors.Unauthorized("invalid token")
	}
	return claims, nil
}
