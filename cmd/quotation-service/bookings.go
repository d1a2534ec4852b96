package main

import (
	"context"

	"github.com/google/uuid"

	"github.com/driventa/quotation-service/internal/model"
)

// noopBookingCreator stands in for the external booking service until the
// fleet booking API client is wired in.
type noopBookingCreator struct{}

func (noopBookingCreator) CreateFromQuotation(_ context.Context, _ model.Quotation) (uuid.UUID, error) {
	return uuid.New(), nil
}
