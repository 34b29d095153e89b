package dispatcher_test

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// mockProcess is a testify mock of dispatcher.Process.
type mockProcess struct {
	mock.Mock
}

func newMockProcess(t interface {
	mock.TestingT
	Cleanup(func())
}) *mockProcess {
	m := &mockProcess{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}

func (m *mockProcess) Run(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockProcess) SoftKill(timeout time.Duration) (bool, error) {
	args := m.Called(timeout)
	return args.Bool(0), args.Error(1)
}

func (m *mockProcess) HardKill() error {
	return m.Called().Error(0)
}

func (m *mockProcess) IsRunning() bool {
	return m.Called().Bool(0)
}
