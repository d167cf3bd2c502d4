package engine

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/rasto/lcmc-sub001/pkg/blob"
	"github.com/rasto/lcmc-sub001/pkg/reconcile"
	"github.com/rasto/lcmc-sub001/pkg/registry"
	"github.com/rasto/lcmc-sub001/pkg/source"
)

// rawSource wraps a static source and attaches a raw document.
type rawSource struct {
	*source.StaticSource
	raw []byte
}

func (s *rawSource) Fetch(ctx context.Context) (source.Result, error) {
	res, err := s.StaticSource.Fetch(ctx)
	res.Raw = s.raw
	return res, err
}

func TestPoller_ArchivesStructureChanges(t *testing.T) {
	src := &rawSource{StaticSource: source.NewStaticSource("cluster", clusterSnapshot()), raw: []byte("<cib/>")}
	eng := reconcile.NewEngine(registry.New(), nil, reconcile.Options{})
	p := NewPoller(src, eng, nil, time.Hour, zerolog.Nop())

	bs := blob.NewLocalBlobStore(t.TempDir())
	p.SetArchive(blob.NewStatusArchive(bs))

	ctx := context.Background()
	first, err := p.PollOnce(ctx)
	if err != nil {
		t.Fatalf("PollOnce failed: %v", err)
	}
	// unchanged structure is not archived
	if _, err := p.PollOnce(ctx); err != nil {
		t.Fatalf("PollOnce failed: %v", err)
	}

	keys, _ := bs.List(ctx, "cib")
	if len(keys) != 1 || keys[0] != blob.Key(first.PassID, first.StartedAt) {
		t.Fatalf("Expected only the first pass archived, got %v", keys)
	}
	r, err := bs.Get(ctx, keys[0])
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer r.Close()
	if data, _ := io.ReadAll(r); string(data) != "<cib/>" {
		t.Errorf("Unexpected archived document %q", data)
	}

	src.Set(clusterSnapshot().AddPrimitive("d9", raDummy, nil).AddTopLevel("d9"))
	if _, err := p.PollOnce(ctx); err != nil {
		t.Fatalf("PollOnce failed: %v", err)
	}
	if keys, _ := bs.List(ctx, "cib"); len(keys) != 2 {
		t.Errorf("Expected a second archived document, got %v", keys)
	}
}

func TestPruneWorker_PrunesArchive(t *testing.T) {
	st := newTestStore(t)
	bs := blob.NewLocalBlobStore(t.TempDir())
	archive := blob.NewStatusArchive(bs)
	ctx := context.Background()

	old := time.Now().UTC().Add(-72 * time.Hour)
	archive.Save(ctx, "pass_old", old, []byte("<cib/>"))
	archive.Save(ctx, "pass_new", time.Now().UTC(), []byte("<cib/>"))

	w := NewPruneWorker(st, RetentionConfig{Enabled: true, PassTTL: 24 * time.Hour}, zerolog.Nop())
	w.SetArchive(archive)
	w.Prune(ctx)

	keys, _ := bs.List(ctx, "cib")
	if len(keys) != 1 || keys[0] != blob.Key("pass_new", time.Now().UTC()) {
		t.Errorf("Expected only the recent document to survive, got %v", keys)
	}
}
