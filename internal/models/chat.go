package models

import (
	"time"

	"github.com/segmentio/ksuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ChatTurn is one question/answer exchange against a document.
// Turns are append-only; Seq is assigned under the per-document append lock
// and defines the chronological order.
type ChatTurn struct {
	ID         string                      `json:"id" gorm:"type:char(27);primaryKey"`
	DocumentID string                      `json:"document_id" gorm:"type:char(27);not null;uniqueIndex:idx_chat_doc_seq"`
	Seq        int                         `json:"seq" gorm:"not null;uniqueIndex:idx_chat_doc_seq"`
	Question   string                      `json:"question" gorm:"type:text;not null"`
	Answer     string                      `json:"answer" gorm:"type:text;not null"`
	Sources    datatypes.JSONSlice[string] `json:"sources" gorm:"type:json"`
	CreatedAt  time.Time                   `json:"created_at" gorm:"column:created_at;autoCreateTime"`

	Document *Document `json:"-" gorm:"foreignKey:DocumentID;references:ID;constraint:OnDelete:CASCADE"`
}

// BeforeCreate hook generates KSUID before inserting
func (c *ChatTurn) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = ksuid.New().String()
	}
	if c.Sources == nil {
		c.Sources = datatypes.JSONSlice[string]{}
	}
	return nil
}

// Answer is the outcome of a question: the grounded text and the labels it cites.
type Answer struct {
	Text    string   `json:"answer"`
	Sources []string `json:"sources"`
}

// Page is one page of extracted text; Number is 1-based.
type Page struct {
	Number int
	Text   string
}

// Message is one entry of a chat-completion prompt.
type Message struct {
	Role    string // "system", "user" or "assistant"
	Content string
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)
