// services/anti-cheat/internal/models/device.go
package models

import (
	"sort"
	"time"
)

type DeviceFlag string

const (
	DeviceFlagSuspicious DeviceFlag = "suspicious"
	DeviceFlagBlocked    DeviceFlag = "blocked"
	DeviceFlagBot        DeviceFlag = "bot"
)

// Risk contributions, summed and capped at MaxDeviceRisk.
const (
	RiskMultiAccount  = 20
	RiskManyIPs       = 10
	RiskSuspicious    = 30
	RiskBot           = 50
	RiskHighVotes     = 15
	RiskManyCountries = 10
	MaxDeviceRisk     = 100

	ManyIPsThreshold       = 3
	HighVotesThreshold     = 100
	ManyCountriesThreshold = 2
	HighRiskThreshold      = 70

	maxDeviceSessions = 50
)

func (f DeviceFlag) Valid() bool {
	switch f {
	case DeviceFlagSuspicious, DeviceFlagBlocked, DeviceFlagBot:
		return true
	}
	return false
}

type DeviceInfo struct {
	UserAgent string `json:"user_agent,omitempty" bson:"user_agent,omitempty"`
	Platform  string `json:"platform,omitempty" bson:"platform,omitempty"`
	Screen    string `json:"screen,omitempty" bson:"screen,omitempty"`
	Timezone  string `json:"timezone,omitempty" bson:"timezone,omitempty"`
	Language  string `json:"language,omitempty" bson:"language,omitempty"`
	Browser   string `json:"browser,omitempty" bson:"browser,omitempty"`
	OS        string `json:"os,omitempty" bson:"os,omitempty"`
	IsMobile  bool   `json:"is_mobile" bson:"is_mobile"`
}

type IPRecord struct {
	Address   string    `json:"address" bson:"address"`
	Geo       *Geo      `json:"geo,omitempty" bson:"geo,omitempty"`
	FirstSeen time.Time `json:"first_seen" bson:"first_seen"`
	LastSeen  time.Time `json:"last_seen" bson:"last_seen"`
}

type DeviceSession struct {
	SessionID string    `json:"session_id" bson:"session_id"`
	UserID    string    `json:"user_id" bson:"user_id"`
	StartedAt time.Time `json:"started_at" bson:"started_at"`
	LastSeen  time.Time `json:"last_seen" bson:"last_seen"`
}

type DeviceActivity struct {
	Votes      int `json:"votes" bson:"votes"`
	Battles    int `json:"battles" bson:"battles"`
	Transforms int `json:"transforms" bson:"transforms"`
	Logins     int `json:"logins" bson:"logins"`
	Total      int `json:"total" bson:"total"`
}

type DeviceFlags struct {
	IsSuspicious   bool `json:"is_suspicious" bson:"is_suspicious"`
	IsBlocked      bool `json:"is_blocked" bson:"is_blocked"`
	IsMultiAccount bool `json:"is_multi_account" bson:"is_multi_account"`
	IsBot          bool `json:"is_bot" bson:"is_bot"`
}

type FlagEvent struct {
	Flag      DeviceFlag `json:"flag" bson:"flag"`
	Set       bool       `json:"set" bson:"set"`
	Reason    string     `json:"reason" bson:"reason"`
	Actor     string     `json:"actor" bson:"actor"`
	Timestamp time.Time  `json:"timestamp" bson:"timestamp"`
}

type DeviceFingerprint struct {
	Fingerprint string          `json:"fingerprint" bson:"_id"`
	UserIDs     []string        `json:"user_ids" bson:"user_ids"`
	DeviceInfo  DeviceInfo      `json:"device_info" bson:"device_info"`
	IPAddresses []IPRecord      `json:"ip_addresses" bson:"ip_addresses"`
	Sessions    []DeviceSession `json:"sessions" bson:"sessions"`
	Activity    DeviceActivity  `json:"activity" bson:"activity"`
	Flags       DeviceFlags     `json:"flags" bson:"flags"`
	RiskScore   int             `json:"risk_score" bson:"risk_score"`
	FlagHistory []FlagEvent     `json:"flag_history" bson:"flag_history"`
	Version     int64           `json:"version" bson:"version"`
	FirstSeen   time.Time       `json:"first_seen" bson:"first_seen"`
	LastSeen    time.Time       `json:"last_seen" bson:"last_seen"`
}

func NewDeviceFingerprint(fingerprint string, now time.Time) *DeviceFingerprint {
	return &DeviceFingerprint{
		Fingerprint: fingerprint,
		UserIDs:     []string{},
		IPAddresses: []IPRecord{},
		Sessions:    []DeviceSession{},
		FlagHistory: []FlagEvent{},
		FirstSeen:   now,
		LastSeen:    now,
	}
}

func (d *DeviceFingerprint) HasUser(userID string) bool {
	i := sort.SearchStrings(d.UserIDs, userID)
	return i < len(d.UserIDs) && d.UserIDs[i] == userID
}

// AddUser inserts userID into the sorted set and re-derives risk.
func (d *DeviceFingerprint) AddUser(userID string) bool {
	if userID == "" || d.HasUser(userID) {
		return false
	}
	i := sort.SearchStrings(d.UserIDs, userID)
	d.UserIDs = append(d.UserIDs, "")
	copy(d.UserIDs[i+1:], d.UserIDs[i:])
	d.UserIDs[i] = userID
	d.RecomputeRisk()
	return true
}

// RemoveUser drops userID from the set and re-derives risk.
func (d *DeviceFingerprint) RemoveUser(userID string) bool {
	if !d.HasUser(userID) {
		return false
	}
	i := sort.SearchStrings(d.UserIDs, userID)
	d.UserIDs = append(d.UserIDs[:i], d.UserIDs[i+1:]...)
	d.RecomputeRisk()
	return true
}

// OtherUsers returns every user on the device except userID.
func (d *DeviceFingerprint) OtherUsers(userID string) []string {
	others := make([]string, 0, len(d.UserIDs))
	for _, id := range d.UserIDs {
		if id != userID {
			others = append(others, id)
		}
	}
	return others
}

// RecordIP adds the address or refreshes its last sighting.
func (d *DeviceFingerprint) RecordIP(address string, geo *Geo, now time.Time) {
	if address == "" {
		return
	}
	for i := range d.IPAddresses {
		if d.IPAddresses[i].Address == address {
			d.IPAddresses[i].LastSeen = now
			if geo != nil {
				d.IPAddresses[i].Geo = geo
			}
			return
		}
	}
	d.IPAddresses = append(d.IPAddresses, IPRecord{
		Address:   address,
		Geo:       geo,
		FirstSeen: now,
		LastSeen:  now,
	})
}

// RecordSession tracks the most recent sessions seen on the device.
func (d *DeviceFingerprint) RecordSession(sessionID, userID string, now time.Time) {
	if sessionID == "" {
		return
	}
	for i := range d.Sessions {
		if d.Sessions[i].SessionID == sessionID {
			d.Sessions[i].LastSeen = now
			d.Sessions[i].UserID = userID
			return
		}
	}
	d.Sessions = append(d.Sessions, DeviceSession{
		SessionID: sessionID,
		UserID:    userID,
		StartedAt: now,
		LastSeen:  now,
	})
	if len(d.Sessions) > maxDeviceSessions {
		d.Sessions = d.Sessions[len(d.Sessions)-maxDeviceSessions:]
	}
}

func (d *DeviceFingerprint) DistinctCountries() int {
	seen := make(map[string]struct{})
	for _, ip := range d.IPAddresses {
		if ip.Geo != nil && ip.Geo.Country != "" {
			seen[ip.Geo.Country] = struct{}{}
		}
	}
	return len(seen)
}

// ComputeRisk is the pure risk function over the current state.
func (d *DeviceFingerprint) ComputeRisk() int {
	if d.Flags.IsBlocked {
		return MaxDeviceRisk
	}
	risk := 0
	if len(d.UserIDs) > 1 {
		risk += RiskMultiAccount
	}
	if len(d.IPAddresses) > ManyIPsThreshold {
		risk += RiskManyIPs
	}
	if d.Flags.IsSuspicious {
		risk += RiskSuspicious
	}
	if d.Flags.IsBot {
		risk += RiskBot
	}
	if d.Activity.Votes > HighVotesThreshold {
		risk += RiskHighVotes
	}
	if d.DistinctCountries() > ManyCountriesThreshold {
		risk += RiskManyCountries
	}
	if risk > MaxDeviceRisk {
		risk = MaxDeviceRisk
	}
	return risk
}

// RecomputeRisk re-derives the multi-account flag and risk score.
func (d *DeviceFingerprint) RecomputeRisk() {
	d.Flags.IsMultiAccount = len(d.UserIDs) > 1
	d.RiskScore = d.ComputeRisk()
}

// SetFlag sets or clears a manual flag and appends to the reason history.
func (d *DeviceFingerprint) SetFlag(flag DeviceFlag, set bool, reason, actor string, now time.Time) {
	switch flag {
	case DeviceFlagSuspicious:
		d.Flags.IsSuspicious = set
	case DeviceFlagBlocked:
		d.Flags.IsBlocked = set
	case DeviceFlagBot:
		d.Flags.IsBot = set
	}
	d.FlagHistory = append(d.FlagHistory, FlagEvent{
		Flag:      flag,
		Set:       set,
		Reason:    reason,
		Actor:     actor,
		Timestamp: now,
	})
	d.RecomputeRisk()
}

// IsRisky reports a device that must not be trusted for votes.
func (d *DeviceFingerprint) IsRisky() bool {
	return d.Flags.IsBlocked || d.Flags.IsBot || d.Flags.IsSuspicious || d.RiskScore > HighRiskThreshold
}

func (d *DeviceFingerprint) Clone() *DeviceFingerprint {
	if d == nil {
		return nil
	}
	cp := *d
	cp.UserIDs = append([]string{}, d.UserIDs...)
	cp.IPAddresses = make([]IPRecord, len(d.IPAddresses))
	for i, ip := range d.IPAddresses {
		cp.IPAddresses[i] = ip
		if ip.Geo != nil {
			geo := *ip.Geo
			cp.IPAddresses[i].Geo = &geo
		}
	}
	cp.Sessions = append([]DeviceSession{}, d.Sessions...)
	cp.FlagHistory = append([]FlagEvent{}, d.FlagHistory...)
	return &cp
}
