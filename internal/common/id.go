package common

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewSubmissionID generates a unique submission ID with the "sub_" prefix
func NewSubmissionID() string {
	return "sub_" + uuid.New().String()
}

// NewProductID generates a unique product ID with the "prd_" prefix
func NewProductID() string {
	return "prd_" + uuid.New().String()
}

// NewDirectoryID generates a unique directory ID with the "dir_" prefix
func NewDirectoryID() string {
	return "dir_" + uuid.New().String()
}

// NewCommandID generates a correlation ID for a worker command
func NewCommandID() string {
	return "cmd_" + uuid.New().String()
}

// NewSessionID generates a browser session affinity key
func NewSessionID() string {
	return "ses_" + uuid.New().String()
}

// NewJobID builds the job identifier for a product submission run.
// Format: job_<productID>_<unix seconds>
func NewJobID(productID string, at time.Time) string {
	return fmt.Sprintf("job_%s_%d", productID, at.Unix())
}
