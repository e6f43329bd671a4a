package bus

import "errors"

// ErrMessageNotFound is returned by ack when the message id is not (or no
// longer) present in any inbox.
var ErrMessageNotFound = errors.New("message not found")

// ErrUnknownWorkflow mirrors the bus's own "unknown_workflow" JSON error
// body for GET /workflow/<id>.
var ErrUnknownWorkflow = errors.New("unknown_workflow")
