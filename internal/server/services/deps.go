// Package services contains the application layer: authentication and token
// lifecycle (AuthService), password verification with lockout
// (PasswordVerifier), profile management (UserService) and the expired token
// sweeper.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/modernapi/internal/common"
	"github.com/dmitrijs2005/modernapi/internal/server/models"
)

// EventPublisher receives domain events after the owning transaction commits.
type EventPublisher interface {
	Dispatch(ctx context.Context, events ...models.Event)
}

// Metrics is the subset of the metrics registry the services report to.
type Metrics interface {
	ObserveAuth(operation, result string)
	ObserveRevocations(reason string, n int64)
	ObserveSweep(n int64)
}

type nopPublisher struct{}

func (nopPublisher) Dispatch(context.Context, ...models.Event) {}

type nopMetrics struct{}

func (nopMetrics) ObserveAuth(string, string)       {}
func (nopMetrics) ObserveRevocations(string, int64) {}
func (nopMetrics) ObserveSweep(int64)               {}

func defaultClock(c func() time.Time) func() time.Time {
	if c == nil {
		return func() time.Time { return time.Now().UTC() }
	}
	return c
}

// result turns an operation outcome into a metrics label.
func result(err error) string {
	if err == nil {
		return "success"
	}
	return common.Code(err)
}

// isNotFound hides the difference between "row missing" and the caller-facing
// error a given operation wants to return.
func isNotFound(err error) bool {
	return errors.Is(err, common.ErrorNotFound)
}
