package domain

import "errors"

var (
	// ErrInvalidSource indicates an input that is neither a well-formed
	// magnet URI nor a readable .torrent file.
	ErrInvalidSource = errors.New("invalid torrent source")
	// ErrNotFound indicates an unknown torrent or job identifier.
	ErrNotFound = errors.New("not found")
)
