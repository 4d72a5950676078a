package unique

import "errors"

var (
	// ErrDuplicateIdentity is returned by Persist when another job already
	// reserved the payload's identity
	ErrDuplicateIdentity = errors.New("duplicate unique identifier")

	// ErrReassignment is returned by MarkUnique when the job already carries
	// a unique payload
	ErrReassignment = errors.New("cannot change a job's unique identifier")
)

// DuplicateIdentityError reports the identity that was already reserved
type DuplicateIdentityError struct {
	Identity string
}

func (e *DuplicateIdentityError) Error() string {
	return ErrDuplicateIdentity.Error() + ": " + e.Identity
}

// Is makes errors.Is(err, ErrDuplicateIdentity) match
func (e *DuplicateIdentityError) Is(target error) bool {
	return target == ErrDuplicateIdentity
}
