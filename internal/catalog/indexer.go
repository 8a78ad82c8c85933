package catalog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/harrison/ultrasession/internal/acq"
	"github.com/harrison/ultrasession/internal/models"
)

// Indexer reads run directories of one experiment and stores their metadata.
type Indexer struct {
	store   *Store
	expDir  string
	kind    acq.Kind
	onIndex func(status string, sum *acq.Summary)
}

// NewIndexer creates an Indexer for the experiment rooted at expDir.
func NewIndexer(store *Store, expDir string, kind acq.Kind) (*Indexer, error) {
	if store == nil || kind == nil {
		return nil, errors.New("store and artifact kind are required")
	}
	abs, err := filepath.Abs(expDir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", expDir, err)
	}
	return &Indexer{store: store, expDir: abs, kind: kind}, nil
}

// ExpDir returns the absolute experiment directory.
func (ix *Indexer) ExpDir() string {
	return ix.expDir
}

// OnIndex registers fn to be called after every stored run.
func (ix *Indexer) OnIndex(fn func(status string, sum *acq.Summary)) {
	ix.onIndex = fn
}

// IndexRun stores a run just finished by a session, keeping its status.
func (ix *Indexer) IndexRun(ctx context.Context, sessionID string, run models.Run) error {
	_, _, err := ix.index(ctx, sessionID, run.Dir, run.Status)
	return err
}

// IndexDir stores the run in runDir, deriving its status from the files
// present, and returns that status.
func (ix *Indexer) IndexDir(ctx context.Context, runDir string) (string, *acq.Summary, error) {
	return ix.index(ctx, "", runDir, "")
}

func (ix *Indexer) index(ctx context.Context, sessionID, runDir, status string) (string, *acq.Summary, error) {
	m, err := acq.OpenDir(ix.expDir, runDir, ix.kind)
	if err != nil {
		return "", nil, err
	}
	sum, err := m.Gather()
	if err != nil {
		return "", nil, err
	}
	if status == "" {
		status = deriveStatus(m, sum)
	}
	if err := ix.store.Upsert(ctx, ix.expDir, sessionID, status, sum); err != nil {
		return "", nil, err
	}
	if ix.onIndex != nil {
		ix.onIndex(status, sum)
	}
	return status, sum, nil
}

// deriveStatus infers how far a run got from its sidecars.
func deriveStatus(m *acq.Metadata, sum *acq.Summary) string {
	if sum.PulseCount.Valid {
		return models.RunProcessed
	}
	if _, err := os.Stat(m.ImagePath()); err == nil {
		return models.RunAcquired
	}
	return models.RunFailed
}

// IndexTree indexes every valid run directory below the experiment root.
// Directories whose names are not run timestamps are searched but not
// indexed, hidden directories are skipped. Failures of single runs are
// collected and do not stop the walk.
func (ix *Indexer) IndexTree(ctx context.Context) (int, error) {
	var (
		n    int
		errs []error
	)
	err := filepath.WalkDir(ix.expDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != ix.expDir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if _, perr := acq.ParseTimestamp(d.Name()); perr != nil {
			return nil
		}
		if _, _, ierr := ix.IndexDir(ctx, path); ierr != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.Name(), ierr))
		} else {
			n++
		}
		return filepath.SkipDir
	})
	if err != nil {
		errs = append(errs, err)
	}
	return n, errors.Join(errs...)
}

// Prune removes the catalogued runs of the experiment whose directories no
// longer exist, and returns how many it removed.
func (ix *Indexer) Prune(ctx context.Context) (int, error) {
	records, err := ix.store.Runs(ctx, ix.expDir)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, rec := range records {
		if _, err := os.Stat(rec.Dir); !errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := ix.store.Delete(ctx, rec.Dir); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
