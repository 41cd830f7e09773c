package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/labnotebook/blob"
	"github.com/BaSui01/labnotebook/entry"
	"github.com/BaSui01/labnotebook/integration"
	"github.com/BaSui01/labnotebook/internal/database"
	"github.com/BaSui01/labnotebook/internal/metrics"
	"github.com/BaSui01/labnotebook/lineage"
	"github.com/BaSui01/labnotebook/notebook"
	"github.com/BaSui01/labnotebook/types"
)

// SQLStore implements every notebook store on a GORM database. The schema
// is owned by internal/migration.
type SQLStore struct {
	db      *gorm.DB
	pool    *database.PoolManager
	name    string
	metrics *metrics.Collector
	logger  *zap.Logger
	now     func() time.Time
}

// SQLOption configures a SQLStore.
type SQLOption func(*SQLStore)

// WithSQLMetrics records query durations.
func WithSQLMetrics(c *metrics.Collector) SQLOption {
	return func(s *SQLStore) { s.metrics = c }
}

// WithSQLPool runs multi-row writes through pm, retrying transient
// failures such as SQLite's "database is locked".
func WithSQLPool(pm *database.PoolManager) SQLOption {
	return func(s *SQLStore) { s.pool = pm }
}

// WithSQLClock overrides time.Now for variable timestamps.
func WithSQLClock(now func() time.Time) SQLOption {
	return func(s *SQLStore) { s.now = now }
}

// NewSQLStore creates a SQLStore over db.
func NewSQLStore(db *gorm.DB, logger *zap.Logger, opts ...SQLOption) *SQLStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &SQLStore{
		db:     db,
		name:   db.Dialector.Name(),
		logger: logger.With(zap.String("component", "sql_store")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var (
	_ entry.Store               = (*SQLStore)(nil)
	_ lineage.EdgeStore         = (*SQLStore)(nil)
	_ notebook.PageStore        = (*SQLStore)(nil)
	_ integration.VariableStore = (*SQLStore)(nil)
	_ notebook.EntryGraphWriter = (*SQLStore)(nil)
	_ blob.Index                = (*SQLBlobIndex)(nil)
)

// DB returns the underlying GORM handle.
func (s *SQLStore) DB() *gorm.DB { return s.db }

func (s *SQLStore) observe(op string, start time.Time) {
	s.metrics.RecordDBQuery(s.name, op, time.Since(start))
}

// sqlTxRetries bounds retries of transient transaction failures.
const sqlTxRetries = 3

func toEdgeModel(e lineage.Edge) *edgeModel {
	return &edgeModel{
		ParentID:     e.ParentID,
		ChildID:      e.ChildID,
		Relationship: string(e.Relationship),
		CreatedAt:    e.CreatedAt.UTC(),
	}
}

func storageErr(op string, err error) error {
	return types.Errorf(types.ErrStorageFailure, "%s failed", op).WithCause(err)
}

// =============================================================================
// 📄 Entries
// =============================================================================

func (s *SQLStore) Get(ctx context.Context, id string) (*entry.Entry, error) {
	defer s.observe("entry_get", time.Now())

	var m entryModel
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NotFound("entry", id)
	}
	if err != nil {
		return nil, storageErr("entry lookup", err)
	}
	return m.toEntry()
}

func (s *SQLStore) Save(ctx context.Context, e *entry.Entry) error {
	defer s.observe("entry_save", time.Now())

	m, err := toEntryModel(e)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Save(m).Error; err != nil {
		return storageErr("entry save", err)
	}
	return nil
}

// SaveWithEdges inserts e and its incoming edges in one transaction.
func (s *SQLStore) SaveWithEdges(ctx context.Context, e *entry.Entry, edges []lineage.Edge) error {
	defer s.observe("entry_save_with_edges", time.Now())

	m, err := toEntryModel(e)
	if err != nil {
		return err
	}
	write := func(tx *gorm.DB) error {
		if err := tx.Save(m).Error; err != nil {
			return err
		}
		for _, edge := range edges {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(toEdgeModel(edge)).Error; err != nil {
				return err
			}
		}
		return nil
	}

	if s.pool != nil {
		err = s.pool.WithTransactionRetry(ctx, sqlTxRetries, write)
	} else {
		err = s.db.WithContext(ctx).Transaction(write)
	}
	if err != nil {
		return storageErr("entry save with edges", err)
	}
	return nil
}

func (s *SQLStore) ListByPage(ctx context.Context, pageID string) ([]*entry.Entry, error) {
	defer s.observe("entry_list", time.Now())

	var rows []entryModel
	err := s.db.WithContext(ctx).
		Where("page_id = ?", pageID).
		Order("created_at ASC").Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, storageErr("entry list", err)
	}
	out := make([]*entry.Entry, 0, len(rows))
	for i := range rows {
		e, err := rows[i].toEntry()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	entry.SortByCreation(out)
	return out, nil
}

// Update applies fn and writes the result with a conditional
// UPDATE ... WHERE id = ? AND status = ?, so exactly one of several
// concurrent callers expecting the same status wins.
func (s *SQLStore) Update(ctx context.Context, id string, expect entry.Status, fn func(*entry.Entry) error) (*entry.Entry, error) {
	defer s.observe("entry_update", time.Now())

	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.Status != expect {
		return nil, entry.StatusMismatch(id, expect, cur.Status)
	}
	if err := fn(cur); err != nil {
		return nil, err
	}

	m, err := toEntryModel(cur)
	if err != nil {
		return nil, err
	}
	res := s.db.WithContext(ctx).Model(&entryModel{}).
		Where("id = ? AND status = ?", id, string(expect)).
		Updates(map[string]any{
			"title":      m.Title,
			"inputs":     m.Inputs,
			"outputs":    m.Outputs,
			"status":     m.Status,
			"execution":  m.Execution,
			"artifacts":  m.Artifacts,
			"tags":       m.Tags,
			"metadata":   m.Metadata,
			"updated_at": m.UpdatedAt,
		})
	if res.Error != nil {
		return nil, storageErr("entry update", res.Error)
	}
	if res.RowsAffected == 0 {
		// 另一个调用者先完成了状态转换
		latest, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, entry.StatusMismatch(id, expect, latest.Status)
	}
	return cur, nil
}

func (s *SQLStore) CreatedAt(ctx context.Context, ids []string) (map[string]time.Time, error) {
	defer s.observe("entry_created_at", time.Now())

	out := make(map[string]time.Time, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []struct {
		ID        string
		CreatedAt time.Time
	}
	err := s.db.WithContext(ctx).Model(&entryModel{}).
		Select("id", "created_at").
		Where("id IN ?", ids).
		Find(&rows).Error
	if err != nil {
		return nil, storageErr("entry created_at lookup", err)
	}
	for _, r := range rows {
		out[r.ID] = r.CreatedAt.UTC()
	}
	return out, nil
}

// =============================================================================
// 🧬 Lineage edges
// =============================================================================

func (s *SQLStore) AddEdge(ctx context.Context, e lineage.Edge) error {
	defer s.observe("edge_add", time.Now())

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(toEdgeModel(e)).Error
	if err != nil {
		return storageErr("lineage edge insert", err)
	}
	return nil
}

func (s *SQLStore) Parents(ctx context.Context, childID string, rel lineage.Relationship) ([]string, error) {
	defer s.observe("edge_parents", time.Now())

	var ids []string
	err := s.db.WithContext(ctx).Model(&edgeModel{}).
		Where("child_id = ? AND relationship = ?", childID, string(rel)).
		Pluck("parent_id", &ids).Error
	if err != nil {
		return nil, storageErr("lineage parents lookup", err)
	}
	return ids, nil
}

func (s *SQLStore) Children(ctx context.Context, parentID string, rel lineage.Relationship) ([]string, error) {
	defer s.observe("edge_children", time.Now())

	var ids []string
	err := s.db.WithContext(ctx).Model(&edgeModel{}).
		Where("parent_id = ? AND relationship = ?", parentID, string(rel)).
		Pluck("child_id", &ids).Error
	if err != nil {
		return nil, storageErr("lineage children lookup", err)
	}
	return ids, nil
}

func (s *SQLStore) Edges(ctx context.Context, id string) ([]lineage.Edge, error) {
	defer s.observe("edge_list", time.Now())

	var rows []edgeModel
	err := s.db.WithContext(ctx).
		Where("parent_id = ? OR child_id = ?", id, id).
		Order("created_at ASC").Order("relationship ASC").
		Find(&rows).Error
	if err != nil {
		return nil, storageErr("lineage edge list", err)
	}
	out := make([]lineage.Edge, len(rows))
	for i := range rows {
		out[i] = rows[i].toEdge()
	}
	return out, nil
}

// =============================================================================
// 💾 Blob index
// =============================================================================

// SQLBlobIndex is the blob.Index view of a SQLStore.
type SQLBlobIndex struct {
	s *SQLStore
}

// BlobIndex returns the blob index backed by s.
func (s *SQLStore) BlobIndex() *SQLBlobIndex {
	return &SQLBlobIndex{s: s}
}

func (x *SQLBlobIndex) Get(ctx context.Context, hash string) (*blob.Object, error) {
	s := x.s
	defer s.observe("blob_get", time.Now())

	var m blobModel
	err := s.db.WithContext(ctx).Where("hash = ?", hash).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NotFound("blob", hash)
	}
	if err != nil {
		return nil, storageErr("blob lookup", err)
	}
	return m.toObject()
}

// Put inserts obj unless its hash is already indexed.
func (x *SQLBlobIndex) Put(ctx context.Context, obj *blob.Object) (bool, error) {
	s := x.s
	defer s.observe("blob_put", time.Now())

	m, err := toBlobModel(obj)
	if err != nil {
		return false, err
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(m)
	if res.Error != nil {
		return false, storageErr("blob index insert", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (x *SQLBlobIndex) SetThumbnail(ctx context.Context, hash, thumbnailHash string) error {
	s := x.s
	defer s.observe("blob_set_thumbnail", time.Now())

	res := s.db.WithContext(ctx).Model(&blobModel{}).
		Where("hash = ?", hash).
		Update("thumbnail_hash", thumbnailHash)
	if res.Error != nil {
		return storageErr("blob thumbnail update", res.Error)
	}
	if res.RowsAffected == 0 {
		return types.NotFound("blob", hash)
	}
	return nil
}

// =============================================================================
// 📚 Pages
// =============================================================================

func (s *SQLStore) SavePage(ctx context.Context, p *notebook.Page) error {
	defer s.observe("page_save", time.Now())

	m := &pageModel{
		ID:          p.ID,
		NotebookID:  p.NotebookID,
		Title:       p.Title,
		Description: p.Description,
		CreatedAt:   p.CreatedAt.UTC(),
	}
	if err := s.db.WithContext(ctx).Save(m).Error; err != nil {
		return storageErr("page save", err)
	}
	return nil
}

func (s *SQLStore) GetPage(ctx context.Context, id string) (*notebook.Page, error) {
	defer s.observe("page_get", time.Now())

	var m pageModel
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NotFound("page", id)
	}
	if err != nil {
		return nil, storageErr("page lookup", err)
	}
	return m.toPage(), nil
}

func (s *SQLStore) ListPages(ctx context.Context, notebookID string) ([]*notebook.Page, error) {
	defer s.observe("page_list", time.Now())

	var rows []pageModel
	err := s.db.WithContext(ctx).
		Where("notebook_id = ?", notebookID).
		Order("created_at ASC").Order("id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, storageErr("page list", err)
	}
	out := make([]*notebook.Page, len(rows))
	for i := range rows {
		out[i] = rows[i].toPage()
	}
	notebook.SortPages(out)
	return out, nil
}

// =============================================================================
// 🔧 Integration variables
// =============================================================================

func (s *SQLStore) SetVariable(ctx context.Context, entryType, name string, value any) error {
	defer s.observe("variable_set", time.Now())

	if entryType == "" || name == "" {
		return types.NewError(types.ErrInvalidRequest, "entry type and variable name are required")
	}
	raw, err := jsonColumn(value, false)
	if err != nil {
		return types.NewError(types.ErrInvalidRequest, "variable value is not serializable").WithCause(err)
	}
	m := &variableModel{EntryType: entryType, Name: name, Value: raw, UpdatedAt: s.now().UTC()}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entry_type"}, {Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(m).Error
	if err != nil {
		return storageErr("variable upsert", err)
	}
	return nil
}

func (s *SQLStore) Variables(ctx context.Context, entryType string) (map[string]any, error) {
	defer s.observe("variable_list", time.Now())

	var rows []variableModel
	if err := s.db.WithContext(ctx).Where("entry_type = ?", entryType).Find(&rows).Error; err != nil {
		return nil, storageErr("variable list", err)
	}
	out := make(map[string]any, len(rows))
	for _, r := range rows {
		var v any
		if err := decodeColumn(r.Value, &v); err != nil {
			return nil, fmt.Errorf("failed to decode variable %s.%s: %w", entryType, r.Name, err)
		}
		out[r.Name] = v
	}
	return out, nil
}

func (s *SQLStore) DeleteVariable(ctx context.Context, entryType, name string) error {
	defer s.observe("variable_delete", time.Now())

	res := s.db.WithContext(ctx).
		Where("entry_type = ? AND name = ?", entryType, name).
		Delete(&variableModel{})
	if res.Error != nil {
		return storageErr("variable delete", res.Error)
	}
	if res.RowsAffected == 0 {
		return types.NotFound("integration variable", entryType+"."+name)
	}
	return nil
}
