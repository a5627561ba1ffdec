package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"bigapi/backend/internal/domain"
	"bigapi/backend/internal/storage"
)

func TestDashboardService_BuildView(t *testing.T) {
	accounts := new(MockAccountStore)
	usage := new(MockUsageAggregator)
	svc := NewDashboardService(accounts, usage, 0)

	accounts.On("GetAccount", mock.Anything, "acct-1").Return(&domain.Account{ID: "acct-1", Credits: 925}, nil)
	usage.On("Aggregate", mock.Anything, "acct-1", domain.Window{}).Return(&domain.UsageAggregate{
		TotalCalls:           2,
		TotalImagesGenerated: 4,
		TotalCreditsUsed:     75,
		SuccessRate:          66.67,
		RecentActivity:       []domain.ActivityEntry{{CreditsUsed: 30}},
	}, nil)

	view, err := svc.BuildView(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(925), view.Credits)
	assert.Equal(t, int64(2), view.TotalAPICalls)
	assert.Equal(t, int64(4), view.TotalImagesGenerated)
	assert.Equal(t, 66.67, view.SuccessRate)
	assert.Len(t, view.RecentActivity, 1)
}

func TestDashboardService_BalanceFailureIsUpstream(t *testing.T) {
	accounts := new(MockAccountStore)
	usage := new(MockUsageAggregator)
	svc := NewDashboardService(accounts, usage, 0)

	accounts.On("GetAccount", mock.Anything, "acct-1").Return(nil, errors.New("db down"))

	view, err := svc.BuildView(context.Background(), "acct-1")
	assert.ErrorIs(t, err, domain.ErrUpstream)
	assert.Nil(t, view)
	// 重试一次后放弃，不会继续聚合用量
	accounts.AssertNumberOfCalls(t, "GetAccount", 2)
	usage.AssertNotCalled(t, "Aggregate", mock.Anything, mock.Anything, mock.Anything)
}

func TestDashboardService_MissingAccount(t *testing.T) {
	accounts := new(MockAccountStore)
	usage := new(MockUsageAggregator)
	svc := NewDashboardService(accounts, usage, 0)

	accounts.On("GetAccount", mock.Anything, "ghost").Return(nil, storage.ErrNotFound)

	_, err := svc.BuildView(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	accounts.AssertNumberOfCalls(t, "GetAccount", 1)
}

func TestDashboardService_AggregateFailure(t *testing.T) {
	accounts := new(MockAccountStore)
	usage := new(MockUsageAggregator)
	svc := NewDashboardService(accounts, usage, 0)

	accounts.On("GetAccount", mock.Anything, "acct-1").Return(&domain.Account{ID: "acct-1"}, nil)
	usage.On("Aggregate", mock.Anything, "acct-1", mock.Anything).Return(nil, domain.Upstream("sum usage", errors.New("boom")))

	_, err := svc.BuildView(context.Background(), "acct-1")
	assert.ErrorIs(t, err, domain.ErrUpstream)
}
