package analysis

import "errors"

var (
	ErrUnsupportedFormat = errors.New("unsupported video format: expected MP4, MOV or AVI")
	ErrFileTooLarge      = errors.New("file exceeds the maximum upload size")
	ErrNoFileSelected    = errors.New("no video file selected")
	ErrNotFailed         = errors.New("item is not in a failed state")
)
