package service

import "errors"

var (
	ErrPortUnavailable     = errors.New("port unavailable")
	ErrCredentialBootstrap = errors.New("credential bootstrap failed")
	ErrContainerStart      = errors.New("web container failed to start")
	ErrProcessSpawn        = errors.New("process spawn failed")
	ErrOperationInFlight   = errors.New("another operation is in progress")
	ErrIllegalTransition   = errors.New("illegal state transition")
)
