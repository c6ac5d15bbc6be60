package queue

import "errors"

var (
	ErrDuplicateID  = errors.New("queue item id already present")
	ErrItemNotFound = errors.New("queue item not found")
)
