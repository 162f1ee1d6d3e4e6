package queue

import (
	"fmt"
	"strings"
)

// JobMessage is the broker payload for one job dispatch run. The worker loads
// everything else from the job store; redelivering this message is harmless
// because RunJob is re-entrant.
type JobMessage struct {
	JobID         string `json:"jobId"`
	TenantID      string `json:"tenantId"`
	CorrelationID string `json:"correlationId,omitempty"`
}

func (m JobMessage) Validate() error {
	if strings.TrimSpace(m.JobID) == "" {
		return fmt.Errorf("jobId is required")
	}
	if strings.TrimSpace(m.TenantID) == "" {
		return fmt.Errorf("tenantId is required")
	}
	return nil
}
