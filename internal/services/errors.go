package services

import "errors"

// Service errors
var (
	ErrStorageFailure = errors.New("user data storage failed")
	ErrBackendDown    = errors.New("card authority unreachable")
)
