package models

import "github.com/pgvector/pgvector-go"

// ChunkVector is the pgvector row of a chunk embedding.
// Learning: the column has no fixed dimension so one table serves every
// model; that rules out an ANN index, and queries are exact scans over one
// document's rows.
type ChunkVector struct {
	ChunkID    string          `gorm:"type:varchar(64);primaryKey"`
	DocumentID string          `gorm:"type:char(27);not null;index"`
	Seq        int             `gorm:"not null"`
	Model      string          `gorm:"type:varchar(128);not null"`
	Embedding  pgvector.Vector `gorm:"type:vector"`
}

func (ChunkVector) TableName() string {
	return "chunk_vectors"
}
