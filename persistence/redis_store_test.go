package persistence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/labnotebook/blob"
	"github.com/BaSui01/labnotebook/entry"
	"github.com/BaSui01/labnotebook/lineage"
	"github.com/BaSui01/labnotebook/notebook"
	"github.com/BaSui01/labnotebook/testutil"
	"github.com/BaSui01/labnotebook/types"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, "test:", zap.NewNop()), mr
}

func TestRedisStore_EntryRoundTrip(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := testutil.TestContext(t)
	clock := testutil.StepClock(epoch, time.Second)

	first := newEntry("page-1", clock())
	second := newEntry("page-1", clock())
	require.NoError(t, store.Save(ctx, second))
	require.NoError(t, store.Save(ctx, first))

	assert.True(t, mr.Exists("test:entry:"+first.ID))
	members, err := mr.ZMembers("test:page_entries:page-1")
	require.NoError(t, err)
	assert.Equal(t, []string{first.ID, second.ID}, members)

	got, err := store.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, float64(42), got.Inputs["seed"])
	assert.True(t, got.CreatedAt.Equal(first.CreatedAt))

	list, err := store.ListByPage(ctx, "page-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)

	empty, err := store.ListByPage(ctx, "page-none")
	require.NoError(t, err)
	assert.Empty(t, empty)

	created, err := store.CreatedAt(ctx, []string{second.ID, "entry-missing"})
	require.NoError(t, err)
	assert.Len(t, created, 1)
	assert.True(t, created[second.ID].Equal(second.CreatedAt))

	_, err = store.Get(ctx, "entry-missing")
	testutil.AssertErrorCode(t, err, types.ErrNotFound)
}

func TestRedisStore_UpdateIsConditional(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := testutil.TestContext(t)
	e := newEntry("page-1", epoch)
	require.NoError(t, store.Save(ctx, e))

	const callers = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		invalid int
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Update(ctx, e.ID, entry.StatusCreated, func(cur *entry.Entry) error {
				return cur.Start(epoch.Add(time.Second))
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case types.IsInvalidState(err):
				invalid++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, callers-1, invalid)

	got, err := store.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, entry.StatusRunning, got.Status)

	_, err = store.Update(ctx, "entry-missing", entry.StatusCreated, func(*entry.Entry) error { return nil })
	testutil.AssertErrorCode(t, err, types.ErrNotFound)
}

func TestRedisStore_Edges(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := testutil.TestContext(t)

	e1 := lineage.Edge{ParentID: "a", ChildID: "b", Relationship: lineage.DerivesFrom, CreatedAt: epoch}
	e2 := lineage.Edge{ParentID: "a", ChildID: "b", Relationship: lineage.VariationOf, CreatedAt: epoch.Add(time.Second)}
	e3 := lineage.Edge{ParentID: "root", ChildID: "a", Relationship: lineage.DerivesFrom, CreatedAt: epoch.Add(2 * time.Second)}
	for _, e := range []lineage.Edge{e1, e1, e2, e3} {
		require.NoError(t, store.AddEdge(ctx, e))
	}

	parents, err := store.Parents(ctx, "b", lineage.DerivesFrom)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, parents)

	children, err := store.Children(ctx, "a", lineage.VariationOf)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, children)

	edges, err := store.Edges(ctx, "a")
	require.NoError(t, err)
	require.Len(t, edges, 3)
	assert.Equal(t, "b", edges[0].ChildID)
	assert.Equal(t, lineage.DerivesFrom, edges[0].Relationship)
	assert.True(t, edges[0].CreatedAt.Equal(epoch))
	assert.Equal(t, lineage.VariationOf, edges[1].Relationship)
	assert.Equal(t, "root", edges[2].ParentID)
}

func TestRedisStore_SaveWithEdges(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := testutil.TestContext(t)

	child := newEntry("page-1", epoch)
	edges := []lineage.Edge{
		{ParentID: "base", ChildID: child.ID, Relationship: lineage.DerivesFrom, CreatedAt: epoch},
		{ParentID: "base", ChildID: child.ID, Relationship: lineage.VariationOf, CreatedAt: epoch},
	}
	require.NoError(t, store.SaveWithEdges(ctx, child, edges))

	got, err := store.Get(ctx, child.ID)
	require.NoError(t, err)
	assert.Equal(t, child.Title, got.Title)

	list, err := store.ListByPage(ctx, "page-1")
	require.NoError(t, err)
	require.Len(t, list, 1)

	all, err := store.Edges(ctx, child.ID)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	children, err := store.Children(ctx, "base", lineage.VariationOf)
	require.NoError(t, err)
	assert.Equal(t, []string{child.ID}, children)
}

func TestRedisStore_BlobIndex(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := testutil.TestContext(t)
	index := store.BlobIndex()

	obj := &blob.Object{Hash: "sha256:feed", SizeBytes: 4, MediaType: "image/png", StoragePath: "x", CreatedAt: epoch}
	created, err := index.Put(ctx, obj)
	require.NoError(t, err)
	assert.True(t, created)
	created, err = index.Put(ctx, obj)
	require.NoError(t, err)
	assert.False(t, created)

	require.NoError(t, index.SetThumbnail(ctx, obj.Hash, "sha256:thumb"))
	got, err := index.Get(ctx, obj.Hash)
	require.NoError(t, err)
	assert.Equal(t, "sha256:thumb", got.ThumbnailHash)

	testutil.AssertErrorCode(t, index.SetThumbnail(ctx, "sha256:none", "x"), types.ErrNotFound)
	_, err = index.Get(ctx, "sha256:none")
	testutil.AssertErrorCode(t, err, types.ErrNotFound)
}

func TestRedisStore_PagesAndVariables(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := testutil.TestContext(t)

	require.NoError(t, store.SavePage(ctx, &notebook.Page{ID: "page-2", NotebookID: "nb", Title: "b", CreatedAt: epoch.Add(time.Minute)}))
	require.NoError(t, store.SavePage(ctx, &notebook.Page{ID: "page-1", NotebookID: "nb", Title: "a", CreatedAt: epoch}))
	pages, err := store.ListPages(ctx, "nb")
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, "page-1", pages[0].ID)

	require.NoError(t, store.SetVariable(ctx, "graphql", "endpoint", "http://api"))
	require.NoError(t, store.SetVariable(ctx, "graphql", "headers", map[string]any{"X-Key": "k"}))
	vars, err := store.Variables(ctx, "graphql")
	require.NoError(t, err)
	assert.Equal(t, "http://api", vars["endpoint"])
	assert.Equal(t, map[string]any{"X-Key": "k"}, vars["headers"])

	require.NoError(t, store.DeleteVariable(ctx, "graphql", "endpoint"))
	testutil.AssertErrorCode(t, store.DeleteVariable(ctx, "graphql", "endpoint"), types.ErrNotFound)
	testutil.AssertErrorCode(t, store.SetVariable(ctx, "", "x", 1), types.ErrInvalidRequest)
}

func TestRedisStore_UnavailableServer(t *testing.T) {
	store, mr := newRedisStore(t)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := store.Get(ctx, "entry-1")
	testutil.AssertErrorCode(t, err, types.ErrStorageFailure)
}
