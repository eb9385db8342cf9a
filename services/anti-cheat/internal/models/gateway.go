// services/anti-cheat/internal/models/gateway.go
package models

// ActionPayload carries the action-specific fields the detectors inspect.
type ActionPayload struct {
	BattleID     string   `json:"battle_id,omitempty"`
	ChallengerID string   `json:"challenger_id,omitempty"`
	DefenderID   string   `json:"defender_id,omitempty"`
	TribeID      string   `json:"tribe_id,omitempty"`
	Prompt       string   `json:"prompt,omitempty"`
	Text         string   `json:"text,omitempty"`
	ImageRef     string   `json:"image_ref,omitempty"`
	ImageLabels  []string `json:"image_labels,omitempty"`
	FaceDetected *bool    `json:"face_detected,omitempty"`
}

// ActivityContext is what the gateway knows about one protected request.
type ActivityContext struct {
	UserID     string        `json:"user_id"`
	DeviceID   string        `json:"device_id,omitempty"`
	IPAddress  string        `json:"ip_address,omitempty"`
	UserAgent  string        `json:"user_agent,omitempty"`
	SessionID  string        `json:"session_id,omitempty"`
	Geo        *Geo          `json:"geo,omitempty"`
	DeviceInfo DeviceInfo    `json:"device_info"`
	Action     Action        `json:"action"`
	Payload    ActionPayload `json:"payload"`
}

// Metadata projects the request context onto a detection record.
func (a *ActivityContext) Metadata() DetectionMetadata {
	return DetectionMetadata{
		DeviceID:  a.DeviceID,
		IPAddress: a.IPAddress,
		UserAgent: a.UserAgent,
		SessionID: a.SessionID,
		Geo:       a.Geo,
	}
}

type Signal struct {
	Stage       string    `json:"stage"`
	IsFraud     bool      `json:"is_fraud"`
	Type        FraudType `json:"type,omitempty"`
	Severity    Severity  `json:"severity,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	DetectionID string    `json:"detection_id,omitempty"`
}

type GatewayDecision struct {
	Allowed        bool       `json:"allowed"`
	Reason         string     `json:"reason,omitempty"`
	Message        string     `json:"message,omitempty"`
	Signals        []Signal   `json:"signals"`
	FailOpenStages []string   `json:"fail_open_stages,omitempty"`
	DeviceRisk     int        `json:"device_risk"`
	TrustLevel     TrustLevel `json:"trust_level,omitempty"`
}
