package gateway

import "fmt"

// UploadError is a terminal transport or backend failure during upload.
type UploadError struct {
	Reason string
	Err    error
}

func (e *UploadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upload failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("upload failed (%s)", e.Reason)
}

func (e *UploadError) Unwrap() error { return e.Err }

// InferenceError is a failure reported by or while reaching an inference
// service. Reason is a machine-readable tag suitable for the queue item's
// processing stage.
type InferenceError struct {
	Service string
	Reason  string
	Err     error
}

func (e *InferenceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s inference failed (%s): %v", e.Service, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s inference failed (%s)", e.Service, e.Reason)
}

func (e *InferenceError) Unwrap() error { return e.Err }
