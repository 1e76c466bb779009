// Package core defines the domain types and collaborator interfaces of the risk engine
package core

import (
	"context"
	"time"
)

// IPositionProvider supplies the current open positions of a user
type IPositionProvider interface {
	GetPositions(ctx context.Context, userID string) ([]Position, error)
}

// ITradeLedger supplies realized activity used by the daily limit types
type ITradeLedger interface {
	DailyActivity(ctx context.Context, userID string, day time.Time) (DailyActivity, error)
}

// ILimitStore persists risk limits
type ILimitStore interface {
	GetLimit(ctx context.Context, id string) (*RiskLimit, error)
	ListLimits(ctx context.Context, userID string) ([]RiskLimit, error)
	SaveLimit(ctx context.Context, limit RiskLimit) error
	DeleteLimit(ctx context.Context, id string) error
	ListLimitUsers(ctx context.Context) ([]string, error)
}

// IAlertStore persists alerts and margin calls
type IAlertStore interface {
	SaveAlert(ctx context.Context, alert RiskAlert) error
	GetAlert(ctx context.Context, id string) (*RiskAlert, error)
	ListAlerts(ctx context.Context, userID string) ([]RiskAlert, error)
	SaveMarginCall(ctx context.Context, call MarginCall) error
	GetMarginCall(ctx context.Context, id string) (*MarginCall, error)
	ListMarginCalls(ctx context.Context, userID string) ([]MarginCall, error)
}

// IAssessmentCache holds recent assessments per user
type IAssessmentCache interface {
	Get(ctx context.Context, userID string) (*CachedAssessment, bool, error)
	Set(ctx context.Context, userID string, assessment RiskAssessment) (*CachedAssessment, error)
	Delete(ctx context.Context, userID string) (bool, error)
}

// INotifier delivers alerts to the outside world
type INotifier interface {
	Notify(ctx context.Context, alert RiskAlert)
}

// IHealthChecker is implemented by components that can report their own health
type IHealthChecker interface {
	CheckHealth(ctx context.Context) error
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
