package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eric-albuquer/invoice-etl/constants"
	"github.com/eric-albuquer/invoice-etl/internal/entity"
	"github.com/eric-albuquer/invoice-etl/internal/extract"
	"github.com/eric-albuquer/invoice-etl/internal/repository"
)

// fakeExtractor derives an invoice from the file name; names starting with
// "bad" fail, "slow" block until the context ends and "panic" panic.
type fakeExtractor struct{}

func (fakeExtractor) Extract(ctx context.Context, path string) (entity.Invoice, error) {
	base := filepath.Base(path)
	switch {
	case len(base) >= 3 && base[:3] == "bad":
		return entity.Invoice{}, &extract.ExtractionError{Reason: constants.ReasonHeaderNotRecognized, Source: path}
	case len(base) >= 4 && base[:4] == "slow":
		<-ctx.Done()
		return entity.Invoice{}, ctx.Err()
	case len(base) >= 5 && base[:5] == "panic":
		panic("broken font table")
	}
	orderID := base[:len(base)-len(filepath.Ext(base))]
	item, err := entity.NewItem("P1", "Widget", 3, decimal.RequireFromString("9.99"))
	if err != nil {
		return entity.Invoice{}, err
	}
	return entity.NewInvoice(orderID, "C9", entity.NewDate(2024, time.March, 5), []entity.Item{item})
}

type recordingRepo struct {
	added   []string
	seen    map[string]bool
	flushes int
}

func newRecordingRepo() *recordingRepo { return &recordingRepo{seen: map[string]bool{}} }

func (r *recordingRepo) Add(inv entity.Invoice) repository.AddResult {
	if r.seen[inv.OrderID] {
		return repository.Duplicate
	}
	r.seen[inv.OrderID] = true
	r.added = append(r.added, inv.OrderID)
	return repository.Added
}

func (r *recordingRepo) Flush(context.Context) error {
	r.flushes++
	return nil
}

func newFake() extract.FileExtractor { return fakeExtractor{} }

func files(names ...string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = filepath.Join("in", n)
	}
	return out
}

func TestPartition_Completeness(t *testing.T) {
	for n := 0; n <= 25; n++ {
		paths := make([]string, n)
		for i := range paths {
			paths[i] = fmt.Sprintf("f%02d.pdf", i)
		}
		for w := 0; w <= 8; w++ {
			batches := Partition(paths, w)
			var flat []string
			for _, b := range batches {
				assert.NotEmpty(t, b)
				flat = append(flat, b...)
			}
			if n == 0 {
				assert.Empty(t, batches)
				continue
			}
			assert.Equal(t, paths, flat, "n=%d w=%d", n, w)
			assert.LessOrEqual(t, len(batches), max(w, 1))
		}
	}
}

func TestPartition_BatchSizes(t *testing.T) {
	batches := Partition([]string{"a", "b", "c", "d", "e"}, 2)
	require.Len(t, batches, 2)
	assert.Equal(t, []string{"a", "b", "c"}, batches[0])
	assert.Equal(t, []string{"d", "e"}, batches[1])

	batches = Partition([]string{"a", "b", "c"}, 10)
	assert.Len(t, batches, 3)
}

func TestIngest_FailureIsolation(t *testing.T) {
	repo := newRecordingRepo()
	o := NewOrchestrator(newFake, repo, WithWorkers(3))

	summary, err := o.Ingest(context.Background(), files("A1.pdf", "A2.pdf", "bad.pdf", "A3.pdf", "A4.pdf"))
	require.NoError(t, err)

	assert.Equal(t, 5, summary.Total)
	assert.Equal(t, 4, summary.Succeeded)
	assert.Equal(t, 4, summary.Added)
	require.Len(t, summary.Failed, 1)
	assert.Equal(t, filepath.Join("in", "bad.pdf"), summary.Failed[0].File)
	assert.Equal(t, constants.ReasonHeaderNotRecognized, summary.Failed[0].Reason)
	assert.Equal(t, []string{"A1", "A2", "A3", "A4"}, repo.added, "merge follows batch order")
	assert.Equal(t, 1, repo.flushes)
	assert.NotEmpty(t, summary.RunID)
}

func TestIngest_EmptyInput(t *testing.T) {
	repo := newRecordingRepo()
	summary, err := NewOrchestrator(newFake, repo).Ingest(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, summary.Total)
	assert.Zero(t, summary.Succeeded)
	assert.Empty(t, summary.Failed)
	assert.Zero(t, repo.flushes)
}

func TestIngest_ExtractorPerWorker(t *testing.T) {
	var built atomic.Int32
	factory := func() extract.FileExtractor {
		built.Add(1)
		return fakeExtractor{}
	}
	_, err := NewOrchestrator(factory, newRecordingRepo(), WithWorkers(4)).
		Ingest(context.Background(), files("A1.pdf", "A2.pdf", "A3.pdf", "A4.pdf", "A5.pdf", "A6.pdf", "A7.pdf", "A8.pdf"))
	require.NoError(t, err)
	assert.Equal(t, int32(4), built.Load())
}

func TestIngest_DuplicatesAcrossBatches(t *testing.T) {
	repo := newRecordingRepo()
	summary, err := NewOrchestrator(newFake, repo, WithWorkers(2)).
		Ingest(context.Background(), []string{"x/A1.pdf", "x/A2.pdf", "y/A1.pdf", "y/A3.pdf"})
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Succeeded)
	assert.Equal(t, 3, summary.Added)
	assert.Equal(t, 1, summary.Duplicates)
}

func TestIngest_TimeoutAndPanicAreIsolated(t *testing.T) {
	repo := newRecordingRepo()
	o := NewOrchestrator(newFake, repo, WithWorkers(2), WithFileTimeout(20*time.Millisecond))

	summary, err := o.Ingest(context.Background(), files("A1.pdf", "slow.pdf", "panic.pdf", "A2.pdf"))
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Added)

	reasons := map[string]constants.Reason{}
	for _, f := range summary.Failed {
		reasons[filepath.Base(f.File)] = f.Reason
	}
	assert.Equal(t, constants.ReasonTimeout, reasons["slow.pdf"])
	assert.Equal(t, constants.ReasonDocumentUnreadable, reasons["panic.pdf"])
}

func TestIngest_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	repo := newRecordingRepo()
	summary, err := NewOrchestrator(newFake, repo, WithWorkers(2)).Ingest(ctx, files("A1.pdf", "A2.pdf"))
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, summary.Failed, 2)
	assert.Equal(t, constants.ReasonCanceled, summary.Failed[0].Reason)
}

type failingRepo struct{ recordingRepo }

func (f *failingRepo) Flush(context.Context) error { return errors.New("disk full") }

func TestIngest_FlushFailureIsReturned(t *testing.T) {
	repo := &failingRepo{recordingRepo: *newRecordingRepo()}
	summary, err := NewOrchestrator(newFake, repo).Ingest(context.Background(), files("A1.pdf"))
	require.Error(t, err)
	assert.Equal(t, 1, summary.Added)
}

func TestIngest_ParallelAndSequentialStoreSameContent(t *testing.T) {
	ctx := context.Background()
	input := files("A5.pdf", "A1.pdf", "bad1.pdf", "A3.pdf", "A2.pdf", "bad2.pdf", "A4.pdf", "A1.pdf")

	stored := func(sequential bool) []string {
		store, err := repository.NewJSONStore(filepath.Join(t.TempDir(), "invoices.json"), nil)
		require.NoError(t, err)
		repo, err := repository.NewInvoiceRepository(ctx, store, nil)
		require.NoError(t, err)
		o := NewOrchestrator(newFake, repo, WithWorkers(3))
		if sequential {
			_, err = o.IngestSequential(ctx, input)
		} else {
			_, err = o.Ingest(ctx, input)
		}
		require.NoError(t, err)

		reloaded, err := repository.NewInvoiceRepository(ctx, store, nil)
		require.NoError(t, err)
		var ids []string
		for _, inv := range reloaded.Invoices() {
			ids = append(ids, inv.OrderID)
		}
		sort.Strings(ids)
		return ids
	}

	parallel := stored(false)
	assert.Equal(t, []string{"A1", "A2", "A3", "A4", "A5"}, parallel)
	assert.Equal(t, parallel, stored(true))
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	for _, rel := range []string{"b.pdf", "A.PDF", "notes.txt", ".hidden.pdf", ".git/x.pdf", "sub/c.pdf"} {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4"), 0o644))
	}

	t.Run("top level only by default", func(t *testing.T) {
		got, err := Discover(root, DiscoverOptions{SkipHidden: true})
		require.NoError(t, err)
		assert.Equal(t, []string{
			filepath.Join(root, "A.PDF"),
			filepath.Join(root, "b.pdf"),
		}, got)
	})

	t.Run("recursive", func(t *testing.T) {
		got, err := Discover(root, DiscoverOptions{SkipHidden: true, Recursive: true})
		require.NoError(t, err)
		assert.Equal(t, []string{
			filepath.Join(root, "A.PDF"),
			filepath.Join(root, "b.pdf"),
			filepath.Join(root, "sub", "c.pdf"),
		}, got)
	})

	t.Run("hidden included", func(t *testing.T) {
		top, err := Discover(root, DiscoverOptions{})
		require.NoError(t, err)
		assert.Len(t, top, 3)

		all, err := Discover(root, DiscoverOptions{Recursive: true})
		require.NoError(t, err)
		assert.Len(t, all, 5)
	})
}

func TestDiscover_MissingDir(t *testing.T) {
	_, err := Discover(filepath.Join(t.TempDir(), "nope"), DiscoverOptions{})
	require.ErrorIs(t, err, ErrInputDirMissing)

	file := filepath.Join(t.TempDir(), "file.pdf")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = Discover(file, DiscoverOptions{})
	require.ErrorIs(t, err, ErrInputDirMissing)
}

func TestWatch_EmitsNewDocuments(t *testing.T) {
	root := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	batches, _, err := Watch(ctx, WatchConfig{Root: root, SkipHidden: true, Debounce: 50 * time.Millisecond}, nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "A1.pdf"), []byte("%PDF"), 0o644))

	select {
	case batch := <-batches:
		assert.Equal(t, []string{filepath.Join(root, "A1.pdf")}, batch)
	case <-time.After(5 * time.Second):
		t.Fatal("no batch emitted")
	}

	cancel()
	for range batches {
	}
}

func TestWatch_SubdirectoriesOnlyWhenRecursive(t *testing.T) {
	for _, recursive := range []bool{false, true} {
		t.Run(fmt.Sprintf("recursive=%v", recursive), func(t *testing.T) {
			root := t.TempDir()
			sub := filepath.Join(root, "archive")
			require.NoError(t, os.Mkdir(sub, 0o755))
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			batches, _, err := Watch(ctx, WatchConfig{Root: root, Recursive: recursive, Debounce: 50 * time.Millisecond}, nil)
			require.NoError(t, err)

			require.NoError(t, os.WriteFile(filepath.Join(sub, "old.pdf"), []byte("%PDF"), 0o644))
			require.NoError(t, os.WriteFile(filepath.Join(root, "A1.pdf"), []byte("%PDF"), 0o644))

			want := []string{filepath.Join(root, "A1.pdf")}
			if recursive {
				want = []string{filepath.Join(root, "A1.pdf"), filepath.Join(sub, "old.pdf")}
			}
			var got []string
			deadline := time.After(5 * time.Second)
			for len(got) < len(want) {
				select {
				case batch := <-batches:
					got = append(got, batch...)
				case <-deadline:
					t.Fatalf("got %v, want %v", got, want)
				}
			}
			sort.Strings(got)
			assert.Equal(t, want, got)

			cancel()
			for range batches {
			}
		})
	}
}

func TestWatch_MissingRoot(t *testing.T) {
	_, _, err := Watch(context.Background(), WatchConfig{Root: filepath.Join(t.TempDir(), "nope")}, nil)
	require.ErrorIs(t, err, ErrInputDirMissing)
}
