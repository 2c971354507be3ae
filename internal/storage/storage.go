// Package storage persists room documents and learner work records.
package storage

import "errors"

var ErrUnexpectedDatabase = errors.New("unexpected database error")
var ErrWorkNotFound = errors.New("work record not found")
