// services/anti-cheat/internal/models/activity.go
package models

import "time"

// Vote and Battle are read-model rows written by the voting and battle
// handlers. Detectors only read them.
type Vote struct {
	ID        string    `json:"id" bson:"_id"`
	UserID    string    `json:"user_id" bson:"user_id"`
	BattleID  string    `json:"battle_id" bson:"battle_id"`
	DeviceID  string    `json:"device_id,omitempty" bson:"device_id,omitempty"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

type Battle struct {
	ID           string    `json:"id" bson:"_id"`
	CreatorID    string    `json:"creator_id" bson:"creator_id"`
	ChallengerID string    `json:"challenger_id" bson:"challenger_id"`
	DefenderID   string    `json:"defender_id" bson:"defender_id"`
	CreatedAt    time.Time `json:"created_at" bson:"created_at"`
}
