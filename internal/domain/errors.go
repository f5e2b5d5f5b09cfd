package domain

import "errors"

// ErrMessageNotFound reports the permanent notification failure where the
// message to edit no longer exists. The reconciler reacts by sending a fresh
// notification and rebinding the tracking record; every other notification
// error is treated as transient and retried next cycle.
var ErrMessageNotFound = errors.New("message to edit not found")
