package persistence

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"github.com/BaSui01/labnotebook/blob"
	"github.com/BaSui01/labnotebook/entry"
	"github.com/BaSui01/labnotebook/lineage"
	"github.com/BaSui01/labnotebook/notebook"
)

// 表结构由 internal/migration 维护，这里的模型只描述列映射

type pageModel struct {
	ID          string    `gorm:"primaryKey;type:varchar(64)"`
	NotebookID  string    `gorm:"type:varchar(64);not null;default:''"`
	Title       string    `gorm:"not null"`
	Description string
	CreatedAt   time.Time `gorm:"autoCreateTime:false"`
}

func (pageModel) TableName() string { return "pages" }

type entryModel struct {
	ID        string         `gorm:"primaryKey;type:varchar(64)"`
	PageID    string         `gorm:"type:varchar(64);index;not null"`
	EntryType string         `gorm:"type:varchar(64);not null"`
	Title     string         `gorm:"not null"`
	Inputs    datatypes.JSON `gorm:"not null"`
	Outputs   datatypes.JSON
	Status    string  `gorm:"type:varchar(16);index;not null"`
	ParentID  *string `gorm:"type:varchar(64);index"`
	Execution datatypes.JSON
	Artifacts datatypes.JSON
	Tags      datatypes.JSON
	Metadata  datatypes.JSON
	CreatedAt time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt time.Time `gorm:"autoUpdateTime:false"`
}

func (entryModel) TableName() string { return "entries" }

type edgeModel struct {
	ParentID     string    `gorm:"primaryKey;type:varchar(64)"`
	ChildID      string    `gorm:"primaryKey;type:varchar(64);index"`
	Relationship string    `gorm:"primaryKey;type:varchar(32)"`
	CreatedAt    time.Time `gorm:"autoCreateTime:false"`
}

func (edgeModel) TableName() string { return "lineage_edges" }

type blobModel struct {
	Hash          string `gorm:"primaryKey;type:varchar(80)"`
	SizeBytes     int64  `gorm:"not null"`
	MediaType     string `gorm:"not null"`
	StoragePath   string `gorm:"not null"`
	ThumbnailHash string `gorm:"not null;default:''"`
	Metadata      datatypes.JSON
	CreatedAt     time.Time `gorm:"autoCreateTime:false"`
}

func (blobModel) TableName() string { return "blobs" }

type variableModel struct {
	EntryType string `gorm:"primaryKey;type:varchar(64)"`
	Name      string `gorm:"primaryKey;type:varchar(128)"`
	Value     datatypes.JSON
	UpdatedAt time.Time `gorm:"autoUpdateTime:false"`
}

func (variableModel) TableName() string { return "integration_variables" }

// =============================================================================
// 模型转换
// =============================================================================

// jsonColumn encodes v; nil maps and slices become SQL NULL.
func jsonColumn(v any, isNil bool) (datatypes.JSON, error) {
	if isNil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(data), nil
}

func decodeColumn(col datatypes.JSON, out any) error {
	if len(col) == 0 || string(col) == "null" {
		return nil
	}
	return json.Unmarshal(col, out)
}

func toEntryModel(e *entry.Entry) (*entryModel, error) {
	m := &entryModel{
		ID:        e.ID,
		PageID:    e.PageID,
		EntryType: e.EntryType,
		Title:     e.Title,
		Status:    string(e.Status),
		CreatedAt: e.CreatedAt.UTC(),
		UpdatedAt: e.UpdatedAt.UTC(),
	}
	if e.ParentID != "" {
		parent := e.ParentID
		m.ParentID = &parent
	}

	inputs := e.Inputs
	if inputs == nil {
		inputs = map[string]any{}
	}
	var err error
	if m.Inputs, err = jsonColumn(inputs, false); err != nil {
		return nil, fmt.Errorf("failed to encode inputs: %w", err)
	}
	if m.Outputs, err = jsonColumn(e.Outputs, e.Outputs == nil); err != nil {
		return nil, fmt.Errorf("failed to encode outputs: %w", err)
	}
	if m.Execution, err = jsonColumn(e.Execution, false); err != nil {
		return nil, fmt.Errorf("failed to encode execution: %w", err)
	}
	if m.Artifacts, err = jsonColumn(e.Artifacts, e.Artifacts == nil); err != nil {
		return nil, fmt.Errorf("failed to encode artifacts: %w", err)
	}
	if m.Tags, err = jsonColumn(e.Tags, e.Tags == nil); err != nil {
		return nil, fmt.Errorf("failed to encode tags: %w", err)
	}
	if m.Metadata, err = jsonColumn(e.Metadata, e.Metadata == nil); err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return m, nil
}

func (m *entryModel) toEntry() (*entry.Entry, error) {
	e := &entry.Entry{
		ID:        m.ID,
		PageID:    m.PageID,
		EntryType: m.EntryType,
		Title:     m.Title,
		Status:    entry.Status(m.Status),
		CreatedAt: m.CreatedAt.UTC(),
		UpdatedAt: m.UpdatedAt.UTC(),
	}
	if m.ParentID != nil {
		e.ParentID = *m.ParentID
	}
	for _, c := range []struct {
		col datatypes.JSON
		out any
	}{
		{m.Inputs, &e.Inputs},
		{m.Outputs, &e.Outputs},
		{m.Execution, &e.Execution},
		{m.Artifacts, &e.Artifacts},
		{m.Tags, &e.Tags},
		{m.Metadata, &e.Metadata},
	} {
		if err := decodeColumn(c.col, c.out); err != nil {
			return nil, fmt.Errorf("failed to decode entry %s: %w", m.ID, err)
		}
	}
	if e.Inputs == nil {
		e.Inputs = map[string]any{}
	}
	return e, nil
}

func toBlobModel(o *blob.Object) (*blobModel, error) {
	meta, err := jsonColumn(o.Metadata, o.Metadata == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to encode blob metadata: %w", err)
	}
	return &blobModel{
		Hash:          o.Hash,
		SizeBytes:     o.SizeBytes,
		MediaType:     o.MediaType,
		StoragePath:   o.StoragePath,
		ThumbnailHash: o.ThumbnailHash,
		Metadata:      meta,
		CreatedAt:     o.CreatedAt.UTC(),
	}, nil
}

func (m *blobModel) toObject() (*blob.Object, error) {
	o := &blob.Object{
		Hash:          m.Hash,
		SizeBytes:     m.SizeBytes,
		MediaType:     m.MediaType,
		StoragePath:   m.StoragePath,
		ThumbnailHash: m.ThumbnailHash,
		CreatedAt:     m.CreatedAt.UTC(),
	}
	if err := decodeColumn(m.Metadata, &o.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode blob %s: %w", m.Hash, err)
	}
	return o, nil
}

func (m *edgeModel) toEdge() lineage.Edge {
	return lineage.Edge{
		ParentID:     m.ParentID,
		ChildID:      m.ChildID,
		Relationship: lineage.Relationship(m.Relationship),
		CreatedAt:    m.CreatedAt.UTC(),
	}
}

func (m *pageModel) toPage() *notebook.Page {
	return &notebook.Page{
		ID:          m.ID,
		NotebookID:  m.NotebookID,
		Title:       m.Title,
		Description: m.Description,
		CreatedAt:   m.CreatedAt.UTC(),
	}
}
