// services/anti-cheat/internal/models/audit.go
package models

import "time"

type AuditEntry struct {
	ID            string                 `json:"id"`
	Actor         string                 `json:"actor"`
	Action        string                 `json:"action"`
	TargetType    string                 `json:"target_type"`
	Target        string                 `json:"target"`
	Before        map[string]interface{} `json:"before,omitempty"`
	After         map[string]interface{} `json:"after,omitempty"`
	ChangedFields []string               `json:"changed_fields"`
	Notes         string                 `json:"notes,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

const (
	AuditTargetDetection = "fraud_detection"
	AuditTargetTrust     = "trust_score"
	AuditTargetDevice    = "device_fingerprint"
)
