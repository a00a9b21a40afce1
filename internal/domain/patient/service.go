package patient

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrQueryTooShort is returned when a search term is under two characters.
var ErrQueryTooShort = fmt.Errorf("search query must be at least 2 characters")

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) CreatePatient(ctx context.Context, p *Patient) error {
	if strings.TrimSpace(p.ClientNumber) == "" {
		return fmt.Errorf("client_number is required")
	}
	if strings.TrimSpace(p.FirstName) == "" || strings.TrimSpace(p.LastName) == "" {
		return fmt.Errorf("first_name and last_name are required")
	}
	return s.repo.Create(ctx, p)
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}

// SearchPatients finds active patients by name or client number.
func (s *Service) SearchPatients(ctx context.Context, query string, limit, offset int) ([]*Patient, int, error) {
	query = strings.TrimSpace(query)
	if len(query) < 2 {
		return nil, 0, ErrQueryTooShort
	}
	return s.repo.Search(ctx, query, limit, offset)
}
