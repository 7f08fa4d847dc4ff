package control

import "errors"

// TransportFailure is not a sentinel here — it is whatever error the
// injected Transport returns; the facade classifies any non-nil Transport
// error as a TransportFailure and applies the matching fail-open policy
// rather than propagating it.
var (
	// ErrInvalidRequest covers a missing operation, empty consumerId,
	// empty operationName, or a serviceName mismatch against the
	// aggregator's configured service.
	ErrInvalidRequest = errors.New("control: invalid request")

	// ErrIllegalState is returned by Stop on a facade that is not Running.
	ErrIllegalState = errors.New("control: illegal state transition")
)

func validateOperationRequest(serviceName, configuredServiceName, consumerID, operationName string) error {
	if consumerID == "" || operationName == "" {
		return ErrInvalidRequest
	}
	if configuredServiceName != "" && serviceName != "" && serviceName != configuredServiceName {
		return ErrInvalidRequest
	}
	return nil
}
