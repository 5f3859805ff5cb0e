package utils

import "errors"

// PermError marks an error that will not go away on retry.
type PermError string

func (e PermError) Error() string {
	return string(e)
}

func (e PermError) IsPermanent() bool {
	return true
}

// IsPermErr reports whether anything in the chain of err is permanent.
func IsPermErr(err error) bool {
	var perm interface{ IsPermanent() bool }
	return errors.As(err, &perm) && perm.IsPermanent()
}
