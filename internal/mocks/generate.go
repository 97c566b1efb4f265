// Package mocks provides generated mock implementations for the core
// repository interfaces.
//
// Mocks are produced with go.uber.org/mock (gomock) via go:generate
// directives. To regenerate after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	defer ctrl.Finish()
//	mockRepo := mocks.NewMockJobRepository(ctrl)
//	mockRepo.EXPECT().Complete(gomock.Any(), gomock.Any()).Return(true, nil)
package mocks

//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=job_repository_mock.go github.com/stagepass/notify/internal/core JobRepository

//go:generate go run go.uber.org/mock/mockgen -package=mocks -destination=subscription_repository_mock.go github.com/stagepass/notify/internal/core SubscriptionRepository
