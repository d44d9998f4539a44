package referral

import "errors"

var (
	ErrEarningNotFound = errors.New("referral earning not found")
	ErrAlreadyClaimed  = errors.New("referral earning already claimed")
	// ErrDuplicateEarning means this level of this deposit was already recorded.
	ErrDuplicateEarning = errors.New("referral earning already recorded")
	ErrInvalidLevel     = errors.New("referral level out of range")
)
