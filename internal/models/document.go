package models

import (
	"time"

	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

type DocumentStatus string

const (
	StatusPending DocumentStatus = "pending"
	StatusReady   DocumentStatus = "ready"
	StatusFailed  DocumentStatus = "failed"
)

// Document is an uploaded PDF and the state of its ingestion.
// Learning: KSUID ids are time-ordered, so "newest first" is uploaded_at DESC
// with the id as tie-breaker.
type Document struct {
	ID             string         `json:"id" gorm:"type:char(27);primaryKey"`
	Filename       string         `json:"filename" gorm:"type:text;not null"`
	Status         DocumentStatus `json:"status" gorm:"type:varchar(16);not null;default:'pending';index"`
	PageCount      int            `json:"page_count" gorm:"not null;default:0"`
	ChunkCount     int            `json:"chunk_count" gorm:"not null;default:0"`
	EmbeddingModel string         `json:"embedding_model,omitempty" gorm:"type:varchar(128)"`
	SizeBytes      int64          `json:"size_bytes" gorm:"not null;default:0"`
	Checksum       string         `json:"checksum,omitempty" gorm:"type:char(64)"`
	Error          string         `json:"error,omitempty" gorm:"type:text"`
	UploadedAt     time.Time      `json:"uploaded_at" gorm:"column:uploaded_at;not null;index"`
	UpdatedAt      time.Time      `json:"-" gorm:"column:updated_at;autoUpdateTime"`
}

// BeforeCreate hook generates the KSUID and upload timestamp before inserting
func (d *Document) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = ksuid.New().String()
	}
	// KSUID time has one-second resolution; keep the precise upload time
	if d.UploadedAt.IsZero() {
		d.UploadedAt = time.Now().UTC()
	}
	if d.Status == "" {
		d.Status = StatusPending
	}
	return nil
}

// Queryable reports whether questions may be asked against the document.
func (d *Document) Queryable() bool {
	return d.Status == StatusReady
}

type DocumentCreate struct {
	Filename  string
	SizeBytes int64
	Checksum  string
}

// IngestionResult carries the fields set by the pending → ready transition.
type IngestionResult struct {
	PageCount      int
	EmbeddingModel string
	Chunks         []*Chunk
}

// EventDocumentStatus is the type of StatusEvent messages.
const EventDocumentStatus = "document.status"

// StatusEvent is pushed to websocket subscribers whenever a document changes state.
type StatusEvent struct {
	Type       string         `json:"type"`
	DocumentID string         `json:"document_id"`
	Status     DocumentStatus `json:"status"`
	ChunkCount int            `json:"chunk_count,omitempty"`
	Error      string         `json:"error,omitempty"`
}
