package jobs

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/passbi/busrace/internal/logger"
	"github.com/passbi/busrace/internal/models"
)

// ErrMissingOperator is returned when a job names no operator
var ErrMissingOperator = errors.New("operator is required")

// BusSource is the cache contract the job calls into
type BusSource interface {
	GetAvailableBuses(ctx context.Context, operator, clientName string) ([]models.EnrichedVehicle, error)
}

// FetchRequest is the job payload
type FetchRequest struct {
	Operator string `json:"operator"`
}

// FetchResult is what a successful job returns
type FetchResult struct {
	Operator       string                   `json:"operator"`
	AvailableBuses []models.EnrichedVehicle `json:"availableBuses"`
	UpdatedAt      time.Time                `json:"updatedAt"`
}

// Runner executes fetch-buses jobs against the shared cache
type Runner struct {
	source     BusSource
	clientName func() (string, error)
	log        logger.Logger
	now        func() time.Time
}

// NewRunner creates a runner; clientName resolves the upstream credential
// on every job so a missing value fails each call
func NewRunner(source BusSource, clientName func() (string, error), log logger.Logger) *Runner {
	if log == nil {
		log = logger.Nop()
	}
	return &Runner{source: source, clientName: clientName, log: log, now: time.Now}
}

// FetchBuses validates the request and returns the operator's buses
func (r *Runner) FetchBuses(ctx context.Context, req FetchRequest) (*FetchResult, error) {
	operator := strings.TrimSpace(req.Operator)
	if operator == "" {
		return nil, ErrMissingOperator
	}

	clientName, err := r.clientName()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	buses, err := r.source.GetAvailableBuses(ctx, operator, clientName)
	if err != nil {
		r.log.Warn("Fetch job failed", "operator", operator, "error", err)
		return nil, err
	}
	if buses == nil {
		buses = []models.EnrichedVehicle{}
	}

	r.log.Info("Fetch job completed", "operator", operator, "buses", len(buses), "duration", time.Since(start).String())
	return &FetchResult{Operator: operator, AvailableBuses: buses, UpdatedAt: r.now()}, nil
}
