package wager

import "context"

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// OperationLogger records domain-level events emitted by Service operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing wager operation.
type OperationLog struct {
	Operation    string
	UserID       UserID
	ResolutionID string
	Stake        Amount
	Outcome      Outcome
	Balance      Amount
	Status       string
	Kind         ErrorKind
	Error        error
}

// ResolutionPublisher receives every committed resolution. Publishing happens
// after the commit, so a failure here never rolls a wager back.
type ResolutionPublisher interface {
	PublishResolution(ctx context.Context, resolution Resolution) error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithResolutionPublisher wires a downstream sink for committed resolutions.
func WithResolutionPublisher(publisher ResolutionPublisher) ServiceOption {
	return func(service *Service) {
		service.publisher = publisher
	}
}

// WithRandomSource replaces the process-wide random source used by Decide.
func WithRandomSource(source RandomSource) ServiceOption {
	return func(service *Service) {
		if source != nil {
			service.random = source
		}
	}
}

// WithIDGenerator replaces the resolution id generator.
func WithIDGenerator(generate func() string) ServiceOption {
	return func(service *Service) {
		if generate != nil {
			service.newID = generate
		}
	}
}
