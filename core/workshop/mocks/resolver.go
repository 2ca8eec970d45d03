package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"workshop-sync/core/workshop"
)

// Resolver is a mock implementation of workshop.Resolver
type Resolver struct {
	mock.Mock
}

func (m *Resolver) Resolve(ctx context.Context, ids []uint64) ([]workshop.Details, error) {
	args := m.Called(ctx, ids)
	if details, ok := args.Get(0).([]workshop.Details); ok {
		return details, args.Error(1)
	}
	return nil, args.Error(1)
}
