package persistence

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/labnotebook/blob"
	"github.com/BaSui01/labnotebook/config"
	"github.com/BaSui01/labnotebook/entry"
	"github.com/BaSui01/labnotebook/integration"
	"github.com/BaSui01/labnotebook/integration/manual"
	"github.com/BaSui01/labnotebook/lineage"
	"github.com/BaSui01/labnotebook/notebook"
	"github.com/BaSui01/labnotebook/testutil"
	"github.com/BaSui01/labnotebook/types"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func sqliteConfig(t *testing.T, dir string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Persistence.Type = string(StoreTypeSQL)
	cfg.Database.Driver = "sqlite"
	cfg.Database.Name = filepath.Join(dir, "db", "notebook.db")
	// 单连接避免 sqlite 写锁竞争返回 SQLITE_BUSY
	cfg.Database.MaxOpenConns = 1
	cfg.Database.MaxIdleConns = 1
	return cfg
}

func openSQLite(t *testing.T) *Stores {
	t.Helper()
	stores, err := Open(context.Background(), sqliteConfig(t, t.TempDir()), zap.NewNop(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = stores.Close() })
	return stores
}

func newEntry(pageID string, now time.Time) *entry.Entry {
	return entry.New(entry.NewParams{
		PageID:    pageID,
		EntryType: "custom",
		Title:     "baseline",
		Inputs:    map[string]any{"seed": 42, "prompt": "a red cube"},
		Tags:      []string{"sweep"},
	}, now)
}

func TestSQLStore_EntryRoundTrip(t *testing.T) {
	stores := openSQLite(t)
	ctx := testutil.TestContext(t)
	clock := testutil.StepClock(epoch, time.Second)

	first := newEntry("page-1", clock())
	second := newEntry("page-1", clock())
	require.NoError(t, stores.Entries.Save(ctx, second))
	require.NoError(t, stores.Entries.Save(ctx, first))
	require.NoError(t, stores.Entries.Save(ctx, newEntry("page-2", clock())))

	got, err := stores.Entries.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, entry.StatusCreated, got.Status)
	assert.Equal(t, float64(42), got.Inputs["seed"])
	assert.Equal(t, "a red cube", got.Inputs["prompt"])
	assert.Nil(t, got.Outputs)
	assert.Equal(t, []string{"sweep"}, got.Tags)
	assert.True(t, got.CreatedAt.Equal(first.CreatedAt))

	list, err := stores.Entries.ListByPage(ctx, "page-1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)

	created, err := stores.Entries.CreatedAt(ctx, []string{first.ID, second.ID, "entry-missing"})
	require.NoError(t, err)
	assert.Len(t, created, 2)
	assert.True(t, created[second.ID].Equal(second.CreatedAt))

	_, err = stores.Entries.Get(ctx, "entry-missing")
	testutil.AssertErrorCode(t, err, types.ErrNotFound)
}

func TestSQLStore_UpdateLifecycle(t *testing.T) {
	stores := openSQLite(t)
	ctx := testutil.TestContext(t)
	e := newEntry("page-1", epoch)
	require.NoError(t, stores.Entries.Save(ctx, e))

	_, err := stores.Entries.Update(ctx, e.ID, entry.StatusCreated, func(cur *entry.Entry) error {
		return cur.Start(epoch.Add(time.Second))
	})
	require.NoError(t, err)

	refs := []entry.ArtifactRef{{Hash: "sha256:abc", MediaType: "application/json", SizeBytes: 12}}
	done, err := stores.Entries.Update(ctx, e.ID, entry.StatusRunning, func(cur *entry.Entry) error {
		return cur.Complete(map[string]any{"score": 0.93}, refs, epoch.Add(3*time.Second))
	})
	require.NoError(t, err)
	assert.Equal(t, entry.StatusCompleted, done.Status)

	got, err := stores.Entries.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, entry.StatusCompleted, got.Status)
	assert.Equal(t, 0.93, got.Outputs["score"])
	require.Len(t, got.Artifacts, 1)
	assert.Equal(t, "sha256:abc", got.Artifacts[0].Hash)
	require.NotNil(t, got.Execution.DurationSeconds)
	assert.InDelta(t, 2.0, *got.Execution.DurationSeconds, 1e-9)

	_, err = stores.Entries.Update(ctx, e.ID, entry.StatusRunning, func(cur *entry.Entry) error {
		t.Fatal("fn must not run on a status mismatch")
		return nil
	})
	testutil.AssertErrorCode(t, err, types.ErrInvalidState)
}

func TestSQLStore_ConcurrentStartHasSingleWinner(t *testing.T) {
	stores := openSQLite(t)
	ctx := testutil.TestContext(t)
	e := newEntry("page-1", epoch)
	require.NoError(t, stores.Entries.Save(ctx, e))

	const callers = 20
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
			_, err := stores.Entries.Update(ctx, e.ID, entry.StatusCreated, func(cur *entry.Entry) error {
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
}

func TestSQLStore_Edges(t *testing.T) {
	stores := openSQLite(t)
	ctx := testutil.TestContext(t)

	e1 := lineage.Edge{ParentID: "a", ChildID: "b", Relationship: lineage.DerivesFrom, CreatedAt: epoch}
	e2 := lineage.Edge{ParentID: "a", ChildID: "c", Relationship: lineage.VariationOf, CreatedAt: epoch.Add(time.Second)}
	require.NoError(t, stores.Edges.AddEdge(ctx, e1))
	require.NoError(t, stores.Edges.AddEdge(ctx, e1))
	require.NoError(t, stores.Edges.AddEdge(ctx, e2))

	parents, err := stores.Edges.Parents(ctx, "b", lineage.DerivesFrom)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, parents)

	children, err := stores.Edges.Children(ctx, "a", lineage.DerivesFrom)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, children)

	edges, err := stores.Edges.Edges(ctx, "a")
	require.NoError(t, err)
	require.Len(t, edges, 2)
	assert.Equal(t, "b", edges[0].ChildID)
	assert.Equal(t, lineage.VariationOf, edges[1].Relationship)
}

func TestSQLStore_SaveWithEdges(t *testing.T) {
	stores := openSQLite(t)
	ctx := testutil.TestContext(t)
	require.NotNil(t, stores.Writer)

	base := newEntry("page-1", epoch)
	require.NoError(t, stores.Entries.Save(ctx, base))
	child := newEntry("page-1", epoch.Add(time.Second))
	edges := []lineage.Edge{
		{ParentID: base.ID, ChildID: child.ID, Relationship: lineage.DerivesFrom, CreatedAt: child.CreatedAt},
		{ParentID: base.ID, ChildID: child.ID, Relationship: lineage.VariationOf, CreatedAt: child.CreatedAt},
	}
	require.NoError(t, stores.Writer.SaveWithEdges(ctx, child, edges))

	got, err := stores.Entries.Get(ctx, child.ID)
	require.NoError(t, err)
	assert.Equal(t, entry.StatusCreated, got.Status)

	for _, rel := range []lineage.Relationship{lineage.DerivesFrom, lineage.VariationOf} {
		parents, err := stores.Edges.Parents(ctx, child.ID, rel)
		require.NoError(t, err)
		assert.Equal(t, []string{base.ID}, parents)
	}
}

func TestSQLStore_BlobIndex(t *testing.T) {
	stores := openSQLite(t)
	ctx := testutil.TestContext(t)

	obj := &blob.Object{
		Hash:        "sha256:feed",
		SizeBytes:   4,
		MediaType:   "image/png",
		StoragePath: "blobs/fe/ed",
		Metadata:    map[string]any{"width": 2},
		CreatedAt:   epoch,
	}
	created, err := stores.Blobs.Put(ctx, obj)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = stores.Blobs.Put(ctx, obj)
	require.NoError(t, err)
	assert.False(t, created)

	require.NoError(t, stores.Blobs.SetThumbnail(ctx, obj.Hash, "sha256:thumb"))
	got, err := stores.Blobs.Get(ctx, obj.Hash)
	require.NoError(t, err)
	assert.Equal(t, "sha256:thumb", got.ThumbnailHash)
	assert.Equal(t, float64(2), got.Metadata["width"])

	err = stores.Blobs.SetThumbnail(ctx, "sha256:none", "x")
	testutil.AssertErrorCode(t, err, types.ErrNotFound)
}

func TestSQLStore_PagesAndVariables(t *testing.T) {
	stores := openSQLite(t)
	ctx := testutil.TestContext(t)

	require.NoError(t, stores.Pages.SavePage(ctx, &notebook.Page{ID: "page-2", NotebookID: "nb", Title: "second", CreatedAt: epoch.Add(time.Minute)}))
	require.NoError(t, stores.Pages.SavePage(ctx, &notebook.Page{ID: "page-1", NotebookID: "nb", Title: "first", Description: "warmup", CreatedAt: epoch}))

	pages, err := stores.Pages.ListPages(ctx, "nb")
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, "page-1", pages[0].ID)
	assert.Equal(t, "warmup", pages[0].Description)

	_, err = stores.Pages.GetPage(ctx, "page-x")
	testutil.AssertErrorCode(t, err, types.ErrNotFound)

	require.NoError(t, stores.Variables.SetVariable(ctx, "http_api", "base_url", "http://a"))
	require.NoError(t, stores.Variables.SetVariable(ctx, "http_api", "base_url", "http://b"))
	require.NoError(t, stores.Variables.SetVariable(ctx, "http_api", "retries", 3))

	vars, err := stores.Variables.Variables(ctx, "http_api")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"base_url": "http://b", "retries": float64(3)}, vars)

	require.NoError(t, stores.Variables.DeleteVariable(ctx, "http_api", "retries"))
	err = stores.Variables.DeleteVariable(ctx, "http_api", "retries")
	testutil.AssertErrorCode(t, err, types.ErrNotFound)
}

func TestSQLStore_NotebookSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := sqliteConfig(t, dir)
	ctx := testutil.TestContext(t)

	open := func() (*Stores, *notebook.Service) {
		stores, err := Open(ctx, cfg, zap.NewNop(), nil)
		require.NoError(t, err)
		registry := integration.NewRegistry(zap.NewNop())
		registry.MustRegister(manual.EntryType, manual.New())
		blobs, err := blob.NewStore(blob.DefaultConfig(filepath.Join(dir, "blobs")), stores.Blobs, zap.NewNop())
		require.NoError(t, err)
		svc, err := notebook.New(stores.Dependencies(registry, blobs), zap.NewNop())
		require.NoError(t, err)
		return stores, svc
	}

	stores, svc := open()
	page, err := svc.CreatePage(ctx, "nb", "reopen")
	require.NoError(t, err)
	parent, err := svc.CreateEntry(ctx, notebook.CreateEntryParams{
		PageID:    page.ID,
		EntryType: manual.EntryType,
		Title:     "observation",
		Inputs:    map[string]any{"outputs": map[string]any{"ok": true}},
	})
	require.NoError(t, err)
	_, err = svc.Execute(ctx, parent.ID)
	require.NoError(t, err)
	child, err := svc.CreateVariation(ctx, parent.ID, notebook.VariationParams{Title: "again"})
	require.NoError(t, err)
	hash, err := svc.StoreArtifact(ctx, []byte(`{"k":1}`), "application/json")
	require.NoError(t, err)
	require.NoError(t, stores.Close())

	stores, svc = open()
	defer stores.Close()

	got, err := svc.GetEntry(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, entry.StatusCompleted, got.Status)
	assert.Equal(t, true, got.Outputs["ok"])

	lin, err := svc.GetLineage(ctx, child.ID, 0)
	require.NoError(t, err)
	require.Len(t, lin.Ancestors, 1)
	assert.Equal(t, parent.ID, lin.Ancestors[0].Entry.ID)

	data, err := svc.RetrieveArtifact(ctx, hash)
	require.NoError(t, err)
	assert.JSONEq(t, `{"k":1}`, string(data))
}
