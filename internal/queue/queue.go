// Package queue holds what queue implementations share.
package queue

import "errors"

// ErrClosed is returned by queues after Close.
var ErrClosed = errors.New("queue closed")
