package checkpoint

import (
	"github.com/RuiFG/streaming/streaming-trigger/log"
	"github.com/pkg/errors"
	"github.com/xujiajun/nutsdb"
)

const bucket = "checkpoint"

type fs struct {
	*staging
	logger log.Logger
	db     *nutsdb.DB

	persistedTotalNum  int
	persistedNumMerged int
}

func (f *fs) init() error {
	return f.db.View(func(tx *nutsdb.Tx) error {
		found := false
		if err := tx.IterateBuckets(nutsdb.DataStructureBPTree, bucket, func(string) bool {
			found = true
			return false
		}); err != nil {
			return errors.WithMessage(err, "unable to iterate checkpoint buckets, the state maybe corrupted")
		}
		if !found {
			return nil
		}
		entries, err := tx.GetAll(bucket)
		if err != nil {
			return errors.WithMessage(err, "failed to load checkpoint state")
		}
		for _, entry := range entries {
			r, err := decodeRecord(entry.Value)
			if err != nil {
				return errors.WithMessagef(err, "invalid checkpoint state stored for split %s", entry.Key)
			}
			f.persisted[string(entry.Key)] = r
		}
		return nil
	})
}

// Persist writes every staged split into the db file
func (f *fs) Persist(checkpointId int64) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.closed {
		return ErrClosed
	}
	records := f.drain(checkpointId)
	if len(records) == 0 {
		return nil
	}
	if err := f.db.Update(func(tx *nutsdb.Tx) error {
		for split, r := range records {
			value, err := encodeRecord(r)
			if err != nil {
				return err
			}
			if err = tx.Put(bucket, []byte(split), value, 0); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return errors.WithMessagef(err, "failed to persist %d checkpoint state", checkpointId)
	}
	f.commit(records)
	f.persistedTotalNum += 1
	if f.persistedNumMerged > 0 && f.persistedTotalNum%f.persistedNumMerged == 0 {
		if err := f.db.Merge(); err != nil {
			f.logger.Warnw("failed to merge fs state.", "err", err)
		}
	}
	return nil
}

func (f *fs) Close() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	return f.db.Close()
}

// NewFSBackend stores checkpoints in a nutsdb directory,
// the db is merged every persistedNumMerged persists, 0 disables merging.
func NewFSBackend(logger log.Logger, checkpointsDir string, persistedNumMerged int) (Backend, error) {
	opts := nutsdb.DefaultOptions
	opts.SegmentSize = 64 * nutsdb.MB
	opts.Dir = checkpointsDir
	db, err := nutsdb.Open(opts)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to open checkpoint dir %s", checkpointsDir)
	}
	backend := &fs{
		staging:            newStaging(),
		logger:             logger,
		db:                 db,
		persistedNumMerged: persistedNumMerged,
	}
	if err = backend.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return backend, nil
}
