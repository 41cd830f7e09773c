package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/labnotebook/blob"
	"github.com/BaSui01/labnotebook/entry"
	"github.com/BaSui01/labnotebook/integration"
	"github.com/BaSui01/labnotebook/lineage"
	"github.com/BaSui01/labnotebook/notebook"
	"github.com/BaSui01/labnotebook/types"
)

// maxCASRetries bounds optimistic WATCH/MULTI retries.
const maxCASRetries = 16

// RedisStore implements every notebook store on Redis.
//
// Key layout (under keyPrefix):
//
//	entry:{id}                        entry JSON
//	page_entries:{page_id}            ZSET of entry ids scored by created_at
//	page:{id}                         page JSON
//	notebook_pages:{notebook_id}      ZSET of page ids scored by created_at
//	edges                             HASH "parent|child|rel" -> created_at
//	parents:{rel}:{child}             SET of parent ids
//	children:{rel}:{parent}           SET of child ids
//	blob:{hash}                       blob index JSON
//	vars:{entry_type}                 HASH name -> value JSON
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	logger    *zap.Logger
}

// NewRedisStore creates a RedisStore. An empty prefix defaults to "labnotebook:".
func NewRedisStore(client redis.UniversalClient, keyPrefix string, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if keyPrefix == "" {
		keyPrefix = "labnotebook:"
	}
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
		logger:    logger.With(zap.String("component", "redis_store")),
	}
}

var (
	_ entry.Store               = (*RedisStore)(nil)
	_ lineage.EdgeStore         = (*RedisStore)(nil)
	_ notebook.PageStore        = (*RedisStore)(nil)
	_ integration.VariableStore = (*RedisStore)(nil)
	_ notebook.EntryGraphWriter = (*RedisStore)(nil)
	_ blob.Index                = (*RedisBlobIndex)(nil)
)

// Ping checks if the store is healthy
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) entryKey(id string) string       { return s.keyPrefix + "entry:" + id }
func (s *RedisStore) pageEntriesKey(id string) string { return s.keyPrefix + "page_entries:" + id }
func (s *RedisStore) pageKey(id string) string        { return s.keyPrefix + "page:" + id }
func (s *RedisStore) notebookKey(id string) string    { return s.keyPrefix + "notebook_pages:" + id }
func (s *RedisStore) edgesKey() string                { return s.keyPrefix + "edges" }
func (s *RedisStore) blobKey(hash string) string      { return s.keyPrefix + "blob:" + hash }
func (s *RedisStore) varsKey(entryType string) string { return s.keyPrefix + "vars:" + entryType }

func (s *RedisStore) parentsKey(rel lineage.Relationship, child string) string {
	return s.keyPrefix + "parents:" + string(rel) + ":" + child
}

func (s *RedisStore) childrenKey(rel lineage.Relationship, parent string) string {
	return s.keyPrefix + "children:" + string(rel) + ":" + parent
}

func edgeField(parent, child string, rel lineage.Relationship) string {
	return parent + "|" + child + "|" + string(rel)
}

func redisErr(op string, err error) error {
	return types.Errorf(types.ErrStorageFailure, "redis %s failed", op).WithCause(err)
}

// =============================================================================
// 📄 Entries
// =============================================================================

func (s *RedisStore) Get(ctx context.Context, id string) (*entry.Entry, error) {
	data, err := s.client.Get(ctx, s.entryKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, types.NotFound("entry", id)
	}
	if err != nil {
		return nil, redisErr("entry get", err)
	}
	return decodeEntry(data)
}

func decodeEntry(data []byte) (*entry.Entry, error) {
	var e entry.Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to decode entry: %w", err)
	}
	if e.Inputs == nil {
		e.Inputs = map[string]any{}
	}
	return &e, nil
}

func (s *RedisStore) Save(ctx context.Context, e *entry.Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode entry: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.entryKey(e.ID), data, 0)
	pipe.ZAdd(ctx, s.pageEntriesKey(e.PageID), redis.Z{Score: float64(e.CreatedAt.UnixNano()), Member: e.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return redisErr("entry save", err)
	}
	return nil
}

// SaveWithEdges writes e and its incoming edges in one MULTI/EXEC.
func (s *RedisStore) SaveWithEdges(ctx context.Context, e *entry.Entry, edges []lineage.Edge) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode entry: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.entryKey(e.ID), data, 0)
	pipe.ZAdd(ctx, s.pageEntriesKey(e.PageID), redis.Z{Score: float64(e.CreatedAt.UnixNano()), Member: e.ID})
	for _, edge := range edges {
		s.queueEdge(ctx, pipe, edge)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return redisErr("entry save with edges", err)
	}
	return nil
}

func (s *RedisStore) ListByPage(ctx context.Context, pageID string) ([]*entry.Entry, error) {
	ids, err := s.client.ZRange(ctx, s.pageEntriesKey(pageID), 0, -1).Result()
	if err != nil {
		return nil, redisErr("page entries", err)
	}
	out := []*entry.Entry{}
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.entryKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, redisErr("entry mget", err)
	}
	for _, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		e, err := decodeEntry([]byte(str))
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	entry.SortByCreation(out)
	return out, nil
}

// Update runs fn under WATCH on the entry key and commits with MULTI/EXEC,
// retrying when another client modified the entry in between.
func (s *RedisStore) Update(ctx context.Context, id string, expect entry.Status, fn func(*entry.Entry) error) (*entry.Entry, error) {
	key := s.entryKey(id)
	var (
		result *entry.Entry
		fnErr  error
	)

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return types.NotFound("entry", id)
		}
		if err != nil {
			return redisErr("entry get", err)
		}
		cur, err := decodeEntry(data)
		if err != nil {
			return err
		}
		if cur.Status != expect {
			return entry.StatusMismatch(id, expect, cur.Status)
		}
		if err := fn(cur); err != nil {
			fnErr = err
			return err
		}
		next, err := json.Marshal(cur)
		if err != nil {
			return fmt.Errorf("failed to encode entry: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			return nil
		})
		if err != nil {
			return err
		}
		result = cur
		return nil
	}

	for range maxCASRetries {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if fnErr != nil || types.GetErrorCode(err) != "" {
			return nil, err
		}
		return nil, redisErr("entry update", err)
	}
	return nil, types.Errorf(types.ErrStorageFailure, "entry %s update contended after %d attempts", id, maxCASRetries).WithRetryable(true)
}

func (s *RedisStore) CreatedAt(ctx context.Context, ids []string) (map[string]time.Time, error) {
	out := make(map[string]time.Time, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.entryKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, redisErr("entry mget", err)
	}
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var head struct {
			CreatedAt time.Time `json:"created_at"`
		}
		if err := json.Unmarshal([]byte(str), &head); err != nil {
			return nil, fmt.Errorf("failed to decode entry %s: %w", ids[i], err)
		}
		out[ids[i]] = head.CreatedAt.UTC()
	}
	return out, nil
}

// =============================================================================
// 🧬 Lineage edges
// =============================================================================

func (s *RedisStore) AddEdge(ctx context.Context, e lineage.Edge) error {
	pipe := s.client.TxPipeline()
	s.queueEdge(ctx, pipe, e)
	if _, err := pipe.Exec(ctx); err != nil {
		return redisErr("edge add", err)
	}
	return nil
}

func (s *RedisStore) queueEdge(ctx context.Context, pipe redis.Pipeliner, e lineage.Edge) {
	pipe.HSetNX(ctx, s.edgesKey(), edgeField(e.ParentID, e.ChildID, e.Relationship), e.CreatedAt.UTC().Format(time.RFC3339Nano))
	pipe.SAdd(ctx, s.parentsKey(e.Relationship, e.ChildID), e.ParentID)
	pipe.SAdd(ctx, s.childrenKey(e.Relationship, e.ParentID), e.ChildID)
}

func (s *RedisStore) Parents(ctx context.Context, childID string, rel lineage.Relationship) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.parentsKey(rel, childID)).Result()
	if err != nil {
		return nil, redisErr("edge parents", err)
	}
	return ids, nil
}

func (s *RedisStore) Children(ctx context.Context, parentID string, rel lineage.Relationship) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.childrenKey(rel, parentID)).Result()
	if err != nil {
		return nil, redisErr("edge children", err)
	}
	return ids, nil
}

func (s *RedisStore) Edges(ctx context.Context, id string) ([]lineage.Edge, error) {
	var fields []string
	for _, rel := range []lineage.Relationship{lineage.DerivesFrom, lineage.VariationOf} {
		parents, err := s.Parents(ctx, id, rel)
		if err != nil {
			return nil, err
		}
		for _, p := range parents {
			fields = append(fields, edgeField(p, id, rel))
		}
		children, err := s.Children(ctx, id, rel)
		if err != nil {
			return nil, err
		}
		for _, c := range children {
			fields = append(fields, edgeField(id, c, rel))
		}
	}
	out := []lineage.Edge{}
	if len(fields) == 0 {
		return out, nil
	}

	stamps, err := s.client.HMGet(ctx, s.edgesKey(), fields...).Result()
	if err != nil {
		return nil, redisErr("edge timestamps", err)
	}
	for i, f := range fields {
		parts := strings.SplitN(f, "|", 3)
		e := lineage.Edge{ParentID: parts[0], ChildID: parts[1], Relationship: lineage.Relationship(parts[2])}
		if str, ok := stamps[i].(string); ok {
			e.CreatedAt, _ = time.Parse(time.RFC3339Nano, str)
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Relationship < out[j].Relationship
	})
	return out, nil
}

// =============================================================================
// 💾 Blob index
// =============================================================================

// RedisBlobIndex is the blob.Index view of a RedisStore.
type RedisBlobIndex struct {
	s *RedisStore
}

// BlobIndex returns the blob index backed by s.
func (s *RedisStore) BlobIndex() *RedisBlobIndex {
	return &RedisBlobIndex{s: s}
}

func (x *RedisBlobIndex) Get(ctx context.Context, hash string) (*blob.Object, error) {
	data, err := x.s.client.Get(ctx, x.s.blobKey(hash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, types.NotFound("blob", hash)
	}
	if err != nil {
		return nil, redisErr("blob get", err)
	}
	var obj blob.Object
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("failed to decode blob %s: %w", hash, err)
	}
	return &obj, nil
}

// Put stores obj with SETNX; false means the hash was already indexed.
func (x *RedisBlobIndex) Put(ctx context.Context, obj *blob.Object) (bool, error) {
	data, err := json.Marshal(obj)
	if err != nil {
		return false, fmt.Errorf("failed to encode blob: %w", err)
	}
	created, err := x.s.client.SetNX(ctx, x.s.blobKey(obj.Hash), data, 0).Result()
	if err != nil {
		return false, redisErr("blob put", err)
	}
	return created, nil
}

func (x *RedisBlobIndex) SetThumbnail(ctx context.Context, hash, thumbnailHash string) error {
	key := x.s.blobKey(hash)
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return types.NotFound("blob", hash)
		}
		if err != nil {
			return err
		}
		var obj blob.Object
		if err := json.Unmarshal(data, &obj); err != nil {
			return fmt.Errorf("failed to decode blob %s: %w", hash, err)
		}
		obj.ThumbnailHash = thumbnailHash
		next, err := json.Marshal(&obj)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			return nil
		})
		return err
	}

	for range maxCASRetries {
		err := x.s.client.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if types.IsNotFound(err) {
			return err
		}
		return redisErr("blob thumbnail update", err)
	}
	return types.Errorf(types.ErrStorageFailure, "blob %s thumbnail update contended", hash).WithRetryable(true)
}

// =============================================================================
// 📚 Pages
// =============================================================================

func (s *RedisStore) SavePage(ctx context.Context, p *notebook.Page) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode page: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.pageKey(p.ID), data, 0)
	pipe.ZAdd(ctx, s.notebookKey(p.NotebookID), redis.Z{Score: float64(p.CreatedAt.UnixNano()), Member: p.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return redisErr("page save", err)
	}
	return nil
}

func (s *RedisStore) GetPage(ctx context.Context, id string) (*notebook.Page, error) {
	data, err := s.client.Get(ctx, s.pageKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, types.NotFound("page", id)
	}
	if err != nil {
		return nil, redisErr("page get", err)
	}
	var p notebook.Page
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode page %s: %w", id, err)
	}
	return &p, nil
}

func (s *RedisStore) ListPages(ctx context.Context, notebookID string) ([]*notebook.Page, error) {
	ids, err := s.client.ZRange(ctx, s.notebookKey(notebookID), 0, -1).Result()
	if err != nil {
		return nil, redisErr("notebook pages", err)
	}
	out := make([]*notebook.Page, 0, len(ids))
	for _, id := range ids {
		p, err := s.GetPage(ctx, id)
		if types.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	notebook.SortPages(out)
	return out, nil
}

// =============================================================================
// 🔧 Integration variables
// =============================================================================

func (s *RedisStore) SetVariable(ctx context.Context, entryType, name string, value any) error {
	if entryType == "" || name == "" {
		return types.NewError(types.ErrInvalidRequest, "entry type and variable name are required")
	}
	data, err := json.Marshal(value)
	if err != nil {
		return types.NewError(types.ErrInvalidRequest, "variable value is not serializable").WithCause(err)
	}
	if err := s.client.HSet(ctx, s.varsKey(entryType), name, data).Err(); err != nil {
		return redisErr("variable set", err)
	}
	return nil
}

func (s *RedisStore) Variables(ctx context.Context, entryType string) (map[string]any, error) {
	raw, err := s.client.HGetAll(ctx, s.varsKey(entryType)).Result()
	if err != nil {
		return nil, redisErr("variable list", err)
	}
	out := make(map[string]any, len(raw))
	for name, v := range raw {
		var val any
		if err := json.Unmarshal([]byte(v), &val); err != nil {
			return nil, fmt.Errorf("failed to decode variable %s.%s: %w", entryType, name, err)
		}
		out[name] = val
	}
	return out, nil
}

func (s *RedisStore) DeleteVariable(ctx context.Context, entryType, name string) error {
	n, err := s.client.HDel(ctx, s.varsKey(entryType), name).Result()
	if err != nil {
		return redisErr("variable delete", err)
	}
	if n == 0 {
		return types.NotFound("integration variable", entryType+"."+name)
	}
	return nil
}
