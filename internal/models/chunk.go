package models

import (
	"fmt"

	"gorm.io/datatypes"
)

// Chunk is one bounded span of a document's text together with its embedding.
// Offsets are rune offsets; Start is within Page and End is within EndPage.
type Chunk struct {
	ID             string                       `json:"id" gorm:"type:varchar(64);primaryKey"`
	DocumentID     string                       `json:"document_id" gorm:"type:char(27);not null;uniqueIndex:idx_chunk_doc_seq"`
	Seq            int                          `json:"seq" gorm:"not null;uniqueIndex:idx_chunk_doc_seq"`
	Page           int                          `json:"page" gorm:"not null"`
	EndPage        int                          `json:"end_page" gorm:"not null"`
	Start          int                          `json:"start" gorm:"not null"`
	End            int                          `json:"end" gorm:"not null"`
	Text           string                       `json:"text" gorm:"type:text;not null"`
	Vector         datatypes.JSONSlice[float32] `json:"-" gorm:"type:json"`
	EmbeddingModel string                       `json:"embedding_model" gorm:"type:varchar(128)"`

	Document *Document `json:"-" gorm:"foreignKey:DocumentID;references:ID;constraint:OnDelete:CASCADE"`
}

// ChunkID builds the stable identifier of the seq-th chunk of a document.
func ChunkID(documentID string, seq int) string {
	return fmt.Sprintf("%s:%d", documentID, seq)
}

// SourceLabel is the citation shown to users for this chunk.
func (c *Chunk) SourceLabel() string {
	return PageLabel(c.Page)
}

// PageLabel formats a 1-based page number the way sources are reported.
func PageLabel(page int) string {
	return fmt.Sprintf("Page %d", page)
}

// ScoredChunk is a retrieved chunk with its similarity to the question
type ScoredChunk struct {
	Chunk *Chunk  `json:"chunk"`
	Score float32 `json:"score"` // Cosine similarity in [-1, 1]
}
