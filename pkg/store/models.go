package store

import (
	"time"

	"gorm.io/datatypes"
)

// DocumentModel persists one document. Data holds the schemaless field map.
type DocumentModel struct {
	Collection string         `gorm:"primaryKey;size:64"`
	ID         string         `gorm:"primaryKey;size:64"`
	Data       datatypes.JSON `gorm:"not null"`
	CreatedAt  time.Time      `gorm:"not null"`
	UpdatedAt  time.Time      `gorm:"not null;index"`
}

func (DocumentModel) TableName() string {
	return "documents"
}

func documentFromModel(m DocumentModel) (Document, error) {
	data, err := decodeData(m.Data)
	if err != nil {
		return Document{}, err
	}
	return Document{
		Ref:        Ref{Collection: m.Collection, ID: m.ID},
		Data:       data,
		CreateTime: m.CreatedAt,
		UpdateTime: m.UpdatedAt,
	}, nil
}
