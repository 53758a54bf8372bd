package serialtelnet

import "errors"

var (
	// ErrEmpty is returned by pop/peek style calls when there is nothing to read.
	ErrEmpty = errors.New("serialtelnet: empty")

	// ErrAllocation is returned when a buffer cannot get the requested capacity.
	// The buffer keeps its previous contents and capacity.
	ErrAllocation = errors.New("serialtelnet: buffer allocation failed")

	// ErrClosed is returned by operations on a closed port, transport or peer.
	ErrClosed = errors.New("serialtelnet: closed")
)
