package user

import "errors"

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrReferralCodeTaken = errors.New("referral code already taken")
	ErrSelfReferral      = errors.New("user cannot refer themselves")
)
