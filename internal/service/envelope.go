package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jbweber/homelab/floater/internal/domain"
)

// Envelope status markers.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Envelope is the outcome handed back to the caller of every operation.
// Status is "success", the echoed status code of the underlying call, or
// "error". Return holds the operation payload, or an ErrorDetail.
type Envelope struct {
	Status string      `json:"status"`
	Return interface{} `json:"return"`
}

// OK reports whether the envelope carries a successful outcome.
func (e Envelope) OK() bool {
	return e.Status != StatusError
}

// ErrorDetail describes a failed operation, including any partial state an
// operator needs to reconcile by hand.
type ErrorDetail struct {
	Error     string              `json:"error"`
	Kind      string              `json:"kind"`
	Outcomes  map[string]string   `json:"outcomes,omitempty"`
	Converged map[string]int64    `json:"converged,omitempty"`
	Orphaned  []domain.Allocation `json:"orphaned,omitempty"`
	Released  []domain.Allocation `json:"released,omitempty"`
}

// Result is what an operation produced. A zero Code means plain success;
// otherwise it is the status code of the call that decided the outcome.
type Result struct {
	Code    int
	Payload interface{}
}

// NewErrorDetail renders err with the partial state its typed form carries.
func NewErrorDetail(err error) ErrorDetail {
	detail := ErrorDetail{Error: err.Error(), Kind: domain.Kind(err)}

	var allocErr *domain.AllocationError
	if errors.As(err, &allocErr) {
		detail.Converged = allocErr.Converged
		detail.Orphaned = allocErr.Orphaned
		detail.Released = allocErr.Released
	}
	var retireErr *domain.RetirementError
	if errors.As(err, &retireErr) {
		detail.Outcomes = retireErr.Outcomes
	}
	return detail
}

// Envelop turns an operation's result into its envelope.
func Envelop(result Result, err error) Envelope {
	if err != nil {
		return Envelope{Status: StatusError, Return: NewErrorDetail(err)}
	}
	status := StatusSuccess
	if result.Code != 0 {
		status = strconv.Itoa(result.Code)
	}
	return Envelope{Status: status, Return: result.Payload}
}

// Run executes op under the operation name, logs and counts its outcome and
// returns its envelope. Failures never escape as errors.
func (s *Service) Run(ctx context.Context, operation string, fields logrus.Fields, op func(ctx context.Context) (Result, error)) Envelope {
	log := s.log.WithField("operation", operation).WithFields(fields)
	start := time.Now()

	result, err := op(ctx)
	outcome := StatusSuccess
	if err != nil {
		outcome = domain.Kind(err)
		log.WithError(err).WithField("kind", outcome).Error("operation failed")
	} else {
		log.WithField("duration", time.Since(start)).Info("operation completed")
	}
	s.metrics.ObserveOperation(operation, outcome, time.Since(start))

	return Envelop(result, err)
}
