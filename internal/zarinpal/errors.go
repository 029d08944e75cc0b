package zarinpal

import (
	"errors"
	"fmt"
)

// Operations reported in GatewayError.Op.
const (
	OpRequest = "request"
	OpVerify  = "verify"
)

// ErrGateway matches every *GatewayError with errors.Is.
var ErrGateway = errors.New("payment gateway error")

// GatewayError is a non-success gateway answer or a failed call.
type GatewayError struct {
	Op      string
	Code    int    // provider code; 0 when the call itself failed
	Message string // provider message when present
	Err     error
}

func (e *GatewayError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "payment gateway error"
	}
	if e.Code != 0 {
		return fmt.Sprintf("zarinpal %s: %s (code %d)", e.Op, msg, e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("zarinpal %s: %s: %v", e.Op, msg, e.Err)
	}
	return fmt.Sprintf("zarinpal %s: %s", e.Op, msg)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrGateway) true for any GatewayError.
func (e *GatewayError) Is(target error) bool { return target == ErrGateway }
