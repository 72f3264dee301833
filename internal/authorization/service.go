package authorization

import (
	"context"
	"errors"
)

// Service answers "may this actor perform this action on this object
// within this customer scope". Roles are per customer; policies are
// global per role.
type Service interface {
	Authorize(ctx context.Context, actor string, customerID string, object string, action string) error
}

var (
	ErrInvalidActor    = errors.New("invalid_actor")
	ErrInvalidCustomer = errors.New("invalid_customer")
	ErrInvalidObject   = errors.New("invalid_object")
	ErrInvalidAction   = errors.New("invalid_action")
	ErrForbidden       = errors.New("forbidden")
)
