package models

import (
	"time"

	"gorm.io/gorm"
)

// Event kinds written to the session event log.
const (
	EventStart = "start"
	EventEnd   = "end"
)

type SessionEvent struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Timestamp time.Time      `gorm:"not null;index" json:"timestamp"`
	Kind      string         `gorm:"not null;index" json:"kind"` // "start" or "end"
	Server    string         `gorm:"not null;index" json:"server"`
	Folder    string         `gorm:"not null" json:"folder"`
	Protocol  string         `gorm:"not null" json:"protocol"` // "RDP" or "SSH"
	CreatedAt time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

type ServerSummary struct {
	Server       string  `json:"server"`
	Folder       string  `json:"folder"`
	TotalSeconds int64   `json:"total_seconds"`
	TotalMinutes float64 `json:"total_minutes"`
	TotalHours   float64 `json:"total_hours"`
	SessionCount int     `json:"session_count"`
	Percentage   float64 `json:"percentage,omitempty"`
}

type ReportPeriod struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Type  string    `json:"type"` // "day", "week", "month"
}

type Report struct {
	Period       ReportPeriod    `json:"period"`
	Servers      []ServerSummary `json:"servers"`
	TotalSeconds int64           `json:"total_seconds"`
	TotalMinutes float64         `json:"total_minutes"`
	TotalHours   float64         `json:"total_hours"`
	GeneratedAt  time.Time       `json:"generated_at"`
}
