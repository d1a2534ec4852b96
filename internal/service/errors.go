package service

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidInput     = errors.New("invalid input")
	ErrConflict         = errors.New("conflicting state transition")
	ErrExpired          = errors.New("resource expired")
	ErrDownstream       = errors.New("downstream service failed")
)
