package verifier

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// authorize admits the identity service principal and admins.
func (s *Service) authorize(ctx context.Context, caller string) error {
	if caller != "" && caller == s.collaborator {
		return nil
	}
	ok, err := s.isAdmin(ctx, caller)
	if err != nil {
		return err
	}
	if !ok {
		return s.deny(caller, domain.MsgUnauthorizedCall)
	}
	return nil
}

// authorizeAdmin admits admins only.
func (s *Service) authorizeAdmin(ctx context.Context, caller string) error {
	ok, err := s.isAdmin(ctx, caller)
	if err != nil {
		return err
	}
	if !ok {
		return s.deny(caller, domain.MsgAdminOnly)
	}
	return nil
}

// Authorize rejects callers that are neither admins nor the identity
// service. Transports call it before reading request bodies.
func (s *Service) Authorize(ctx context.Context, caller string) error {
	return s.authorize(ctx, caller)
}

// AuthorizeAdmin rejects callers that are not admins.
func (s *Service) AuthorizeAdmin(ctx context.Context, caller string) error {
	return s.authorizeAdmin(ctx, caller)
}

func (s *Service) isAdmin(ctx context.Context, caller string) (bool, error) {
	if caller == "" {
		return false, nil
	}
	ok, err := s.repo.IsAdmin(ctx, caller)
	if err != nil {
		return false, fmt.Errorf("failed to check admin set: %w", err)
	}
	return ok, nil
}

func (s *Service) deny(caller, msg string) error {
	s.metrics.IncAuthorizationFailure()
	slog.Warn("caller denied", "principal", caller)
	return domain.NewError(domain.ErrUnauthorized, msg)
}

// AddAdmin grants admin rights to principal. Admin only.
func (s *Service) AddAdmin(ctx context.Context, caller, principal string) error {
	if err := s.authorizeAdmin(ctx, caller); err != nil {
		return err
	}
	if principal == "" {
		return fmt.Errorf("%w: principal is required", domain.ErrInvalidInput)
	}
	if err := s.repo.AddAdmin(ctx, principal); err != nil {
		return err
	}
	slog.Info("admin added", "principal", principal, "added_by", caller)
	return nil
}

// Bootstrap seeds the admin set and the default model at startup.
func (s *Service) Bootstrap(ctx context.Context, admin string) error {
	if admin != "" {
		if err := s.repo.AddAdmin(ctx, admin); err != nil {
			return fmt.Errorf("failed to seed bootstrap admin: %w", err)
		}
	}
	if _, err := s.models.EnsureSeeded(ctx); err != nil {
		return err
	}
	return nil
}
