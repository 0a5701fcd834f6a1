package lesson

import "errors"

// Common errors shared by the lesson packages.
var (
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrInvalidStoreType  = errors.New("invalid store type")
	ErrNotFound          = errors.New("not found")
	ErrLockHeld          = errors.New("processing lock held")
	ErrNotEligible       = errors.New("learner not eligible")
	ErrProfileUpdate     = errors.New("profile update failed")
	ErrIllegalTransition = errors.New("illegal session state transition")
	ErrUnknownVariant    = errors.New("unknown lesson variant")
	ErrUnknownLevel      = errors.New("unknown level")
)
