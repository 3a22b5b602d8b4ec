package progression

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/dealflow/internal/classify"
	"github.com/sells-group/dealflow/internal/model"
)

// --- Store mock ---

type mockStore struct {
	mock.Mock
}

func (m *mockStore) ListActiveDeals(ctx context.Context) ([]model.Deal, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Deal), args.Error(1)
}

func (m *mockStore) GetDeal(ctx context.Context, dealID string) (*model.Deal, error) {
	args := m.Called(ctx, dealID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Deal), args.Error(1)
}

func (m *mockStore) UpdateDealStage(ctx context.Context, dealID string, from, to model.Stage) error {
	args := m.Called(ctx, dealID, from, to)
	return args.Error(0)
}

func (m *mockStore) InvalidateDealCache(ctx context.Context, keys ...string) error {
	args := m.Called(ctx, keys)
	return args.Error(0)
}

func (m *mockStore) CreateRun(ctx context.Context, params model.RunParams) (*model.Run, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Run), args.Error(1)
}

func (m *mockStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, stats *model.RunStatistics) error {
	args := m.Called(ctx, runID, status, stats)
	return args.Error(0)
}

func (m *mockStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockStore) Migrate(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

// --- CommsFetcher mock ---

type mockComms struct {
	mock.Mock
}

func (m *mockComms) FetchRecent(ctx context.Context, accountID string, lookbackDays int) (model.RecentCommunications, error) {
	args := m.Called(ctx, accountID, lookbackDays)
	return args.Get(0).(model.RecentCommunications), args.Error(1)
}

// --- Classifier mock ---

type mockClassifier struct {
	mock.Mock
}

func (m *mockClassifier) Recommend(ctx context.Context, in classify.Input) (*model.StageRecommendation, error) {
	args := m.Called(ctx, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.StageRecommendation), args.Error(1)
}
