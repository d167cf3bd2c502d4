package blob

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"
)

const (
	archivePrefix = "cib"
	dayLayout     = "20060102"
)

// StatusArchive stores raw status documents under cib/<day>/<pass id>.xml.
type StatusArchive struct {
	store BlobStore
}

func NewStatusArchive(store BlobStore) *StatusArchive {
	return &StatusArchive{store: store}
}

// Key returns the archive key of a pass.
func Key(passID string, at time.Time) string {
	return path.Join(archivePrefix, at.UTC().Format(dayLayout), passID+".xml")
}

// Save archives raw for the given pass.
func (a *StatusArchive) Save(ctx context.Context, passID string, at time.Time, raw []byte) error {
	if passID == "" {
		return fmt.Errorf("archive: empty pass id")
	}
	return a.store.Put(ctx, Key(passID, at), bytes.NewReader(raw))
}

// Prune deletes whole days before the day of before. It returns the number
// of documents deleted.
func (a *StatusArchive) Prune(ctx context.Context, before time.Time) (int64, error) {
	keys, err := a.store.List(ctx, archivePrefix)
	if err != nil {
		return 0, err
	}
	cutoff := before.UTC().Format(dayLayout)

	var deleted int64
	for _, key := range keys {
		parts := strings.Split(key, "/")
		if len(parts) != 3 || parts[1] >= cutoff {
			continue
		}
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		if err := a.store.Delete(ctx, key); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}
