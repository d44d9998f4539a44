package deposit

import "errors"

var (
	ErrNotOwner       = errors.New("deposit belongs to another user")
	ErrGatewayFailure = errors.New("payment gateway unavailable")
)
