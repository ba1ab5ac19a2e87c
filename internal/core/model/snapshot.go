package model

import "time"

// MirrorSnapshot is the live-status view of a user kept in the realtime mirror.
// It is a cache derived from the primary record, never a system of record.
type MirrorSnapshot struct {
	UserID        string        `json:"userId" bson:"_id"`
	DateKey       string        `json:"dateKey" bson:"dateKey"`
	Status        SessionStatus `json:"status" bson:"status"`
	CheckInTime   *time.Time    `json:"checkInTime,omitempty" bson:"checkInTime,omitempty"`
	CheckOutTime  *time.Time    `json:"checkOutTime,omitempty" bson:"checkOutTime,omitempty"`
	UpdatedAt     time.Time     `json:"updatedAt" bson:"updatedAt"`
	SourceVersion int64         `json:"sourceVersion" bson:"sourceVersion"`
}

// SnapshotFromSession derives the mirror view of a primary record.
func SnapshotFromSession(s AttendanceSession) MirrorSnapshot {
	snap := MirrorSnapshot{
		UserID:        s.UserID,
		DateKey:       s.DateKey,
		Status:        s.Status,
		UpdatedAt:     s.UpdatedAt,
		SourceVersion: s.Version,
	}
	if s.CheckIn != nil {
		t := s.CheckIn.Timestamp
		snap.CheckInTime = &t
	}
	if s.CheckOut != nil {
		t := s.CheckOut.Timestamp
		snap.CheckOutTime = &t
	}
	return snap
}

// Supersedes reports whether s is at least as recent as other: a later day always wins,
// otherwise the higher (or equal) source version does.
func (s MirrorSnapshot) Supersedes(other MirrorSnapshot) bool {
	if s.DateKey != other.DateKey {
		return s.DateKey > other.DateKey
	}
	return s.SourceVersion >= other.SourceVersion
}

// StatusSummary is the org-level aggregate kept next to the snapshots.
type StatusSummary struct {
	DateKey string                `json:"dateKey"`
	Counts  map[SessionStatus]int `json:"counts"`
	Total   int                   `json:"total"`
}

// Summarize counts the snapshots of dateKey by status.
func Summarize(dateKey string, snaps []MirrorSnapshot) StatusSummary {
	sum := StatusSummary{DateKey: dateKey, Counts: map[SessionStatus]int{
		StatusCheckedIn: 0, StatusOnBreak: 0, StatusCheckedOut: 0,
	}}
	for _, s := range snaps {
		if s.DateKey != dateKey {
			continue
		}
		sum.Counts[s.Status]++
		sum.Total++
	}
	return sum
}
