package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrRateLimited     = errors.New("rate limited")
	ErrWSDisconnect    = errors.New("websocket disconnected")
	ErrRunActive       = errors.New("pipeline run already active")
	ErrLockHeld        = errors.New("lock already held")
	ErrSnapshotMissing = errors.New("snapshot file missing")
)
