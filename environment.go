// Package pagedb is the embedded paged key/value storage engine described
// by spec §1-§9: a page cache over a pluggable device, a blob manager for
// out-of-line values, a B+-tree index per database, a transaction layer,
// and a journal/recovery path tying them together into one crash-safe
// Environment.
//
// Grounded throughout in the teacher's NewBufMgr/NewBLTree top-level
// constructors (bufmgr.go, bltree.go): one object owns the device, the
// frame pool and the tree(s) built over it, and every public operation
// takes that object's single mutex for its duration rather than
// fine-grained per-page locking, per SPEC_FULL.md §5's concurrency model.
package pagedb

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/pagedb/pagedb/internal/blob"
	"github.com/pagedb/pagedb/internal/btree"
	"github.com/pagedb/pagedb/internal/changeset"
	"github.com/pagedb/pagedb/internal/device"
	"github.com/pagedb/pagedb/internal/journal"
	"github.com/pagedb/pagedb/internal/pagecache"
	"github.com/pagedb/pagedb/internal/page"
	"github.com/pagedb/pagedb/internal/recovery"
	"github.com/pagedb/pagedb/internal/txn"
)

// Environment is one open store: a device, its page cache, the blob
// manager and journal built over it, the live transaction table, and
// every database currently open against it.
type Environment struct {
	mu sync.Mutex

	path      string
	cfg       EnvironmentConfig
	log       *zap.SugaredLogger
	dev       device.Device
	cache     *pagecache.Cache
	blobs     *blob.Manager
	jrnl      *journal.Journal
	txns      *txn.Manager
	dbs       map[uint32]*Database
	meta      metaFile
	closed    bool
	failed    error // set once a commit/flush fails; every call after returns ErrNotReady
	recovered *RecoveryReport
}

// RecoveryReport summarizes what Open's recovery pass did, for
// `pagedbctl recover` and operator logging. Nil when Open did not need to
// run recovery.
type RecoveryReport struct {
	PagesRestored  int
	TxnsRolledBack int
	OpsReplayed    int
	OpsRolledBack  int
}

// LastRecoveryReport returns the report from the most recent Open call
// that ran recovery, or nil if the store was shut down cleanly.
func (env *Environment) LastRecoveryReport() *RecoveryReport { return env.recovered }

func resolveLogger(l *zap.Logger) *zap.SugaredLogger {
	if l == nil {
		l = zap.NewNop()
	}
	return l.Sugar()
}

func deviceFlags(f EnvironmentFlags) device.Flags {
	var df device.Flags
	if f&FlagInMemory != 0 {
		df |= device.FlagInMemory
	}
	if f&FlagReadOnly != 0 {
		df |= device.FlagReadOnly
	}
	if f&FlagDisableMmap != 0 {
		df |= device.FlagDisableMmap
	}
	if f&FlagEnableFsync != 0 {
		df |= device.FlagEnableFsync
	}
	if f&FlagDirectIO != 0 {
		df |= device.FlagDirectIO
	}
	return df
}

// Create initializes a brand new store at path (ignored when FlagInMemory
// is set) and returns its open Environment.
func Create(path string, cfg EnvironmentConfig) (*Environment, error) {
	pageSize := cfg.pageSize()
	dev := device.New(deviceFlags(cfg.Flags))
	if err := dev.Create(path, deviceFlags(cfg.Flags), 0600, int64(pageSize), pageSize); err != nil {
		return nil, translateErr(err)
	}
	env, err := newEnvironment(path, cfg, dev)
	if err != nil {
		return nil, err
	}
	env.meta = metaFile{CleanShutdown: false, NextDBID: 1}
	if cfg.Flags&FlagInMemory == 0 {
		if err := writeMeta(path, env.meta); err != nil {
			return nil, translateErr(err)
		}
	}
	env.log.Infow("environment created", "path", path, "pageSize", pageSize)
	return env, nil
}

// Open opens an existing store at path, running crash recovery first when
// the last session did not shut down cleanly and FlagEnableRecovery is
// set.
func Open(path string, cfg EnvironmentConfig) (*Environment, error) {
	pageSize := cfg.pageSize()
	dev := device.New(deviceFlags(cfg.Flags))
	if err := dev.Open(path, deviceFlags(cfg.Flags), pageSize); err != nil {
		return nil, translateErr(err)
	}
	env, err := newEnvironment(path, cfg, dev)
	if err != nil {
		return nil, err
	}

	m, err := readMeta(path)
	if err != nil {
		return nil, translateErr(err)
	}
	env.meta = m
	for _, d := range m.Databases {
		idx, err := btree.Open(changeset.New(env.cache), env.cache, env.blobs, pageSize, d.KeyType, btree.Comparator(d.KeyType), d.RootPageID, d.Flags.recNoWidth(), d.NextRecNo)
		if err != nil {
			return nil, translateErr(err)
		}
		env.dbs[d.ID] = &Database{env: env, id: d.ID, name: d.Name, cfg: DatabaseConfig{KeyType: d.KeyType, KeySize: d.KeySize, RecordSize: d.RecordSize, Flags: d.Flags}, index: idx}
	}

	if !m.CleanShutdown && cfg.Flags&FlagEnableRecovery != 0 {
		report, err := recovery.Recover(env.dev, env.jrnl, pageSize, env)
		if err != nil {
			return nil, translateErr(err)
		}
		env.recovered = &RecoveryReport{
			PagesRestored:  report.PagesRestored,
			TxnsRolledBack: report.TxnsRolledBack,
			OpsReplayed:    report.OpsReplayed,
			OpsRolledBack:  report.OpsRolledBack,
		}
		env.log.Infow("recovery complete", "pagesRestored", report.PagesRestored, "opsReplayed", report.OpsReplayed, "txnsRolledBack", report.TxnsRolledBack)
	} else if !m.CleanShutdown && cfg.Flags&FlagEnableRecovery == 0 {
		return nil, ErrNeedRecovery
	}

	env.meta.CleanShutdown = false
	if cfg.Flags&FlagInMemory == 0 {
		if err := writeMeta(path, env.meta); err != nil {
			return nil, translateErr(err)
		}
	}
	env.log.Infow("environment opened", "path", path, "databases", len(env.dbs))
	return env, nil
}

func newEnvironment(path string, cfg EnvironmentConfig, dev device.Device) (*Environment, error) {
	pageSize := cfg.pageSize()
	jrnlDir := cfg.JournalDir
	if jrnlDir == "" {
		jrnlDir = path + ".journal"
	}
	var jrnl *journal.Journal
	if cfg.Flags&FlagInMemory == 0 {
		if err := os.MkdirAll(jrnlDir, 0700); err != nil {
			return nil, translateErr(err)
		}
		var err error
		jrnl, err = journal.Open(jrnlDir, pageSize)
		if err != nil {
			return nil, translateErr(err)
		}
	}
	cache := pagecache.New(dev, pageSize, cfg.cacheFrames(), func(lsn uint64) bool {
		return jrnl == nil || lsn <= jrnl.LastAllocatedLSN()
	})
	env := &Environment{
		path:  path,
		cfg:   cfg,
		log:   resolveLogger(cfg.Logger),
		dev:   dev,
		cache: cache,
		blobs: blob.New(cache, pageSize),
		jrnl:  jrnl,
		txns:  txn.New(),
		dbs:   make(map[uint32]*Database),
	}
	return env, nil
}

// withLock runs fn under the environment mutex, translating the error
// into the boundary taxonomy and recording a hard failure so subsequent
// calls fail fast with ErrNotReady (spec §7's error-state policy).
func (env *Environment) withLock(fn func() error) error {
	env.mu.Lock()
	defer env.mu.Unlock()
	if env.failed != nil {
		return ErrNotReady
	}
	if err := fn(); err != nil {
		return translateErr(err)
	}
	return nil
}

func (env *Environment) fail(err error) error {
	env.failed = err
	env.log.Errorw("environment entering error state", "err", err)
	return err
}

// Flush writes back every dirty cache frame and fsyncs the journal,
// without closing the environment.
func (env *Environment) Flush() error {
	return env.withLock(func() error {
		if err := env.cache.Flush(); err != nil {
			return env.fail(err)
		}
		if env.jrnl != nil {
			return env.jrnl.Flush(env.cfg.Flags&FlagEnableFsync != 0)
		}
		return nil
	})
}

// MaintenanceTick performs the housekeeping spec §6 expects an embedder
// to call periodically in lieu of a background thread: flushing dirty
// pages and rotating the journal. Safe to call on any cadence, including
// never.
func (env *Environment) MaintenanceTick() error {
	return env.Flush()
}

// Close flushes all pending writes, marks the store as cleanly shut down,
// and releases the device and journal.
func (env *Environment) Close() error {
	return env.withLock(func() error {
		if env.closed {
			return nil
		}
		if err := env.cache.Flush(); err != nil {
			return err
		}
		if env.jrnl != nil {
			if err := env.jrnl.Flush(true); err != nil {
				return err
			}
		}
		env.meta.CleanShutdown = true
		env.snapshotDBsLocked()
		if env.cfg.Flags&FlagInMemory == 0 {
			if err := writeMeta(env.path, env.meta); err != nil {
				return err
			}
		}
		if env.jrnl != nil {
			if err := env.jrnl.Close(); err != nil {
				return err
			}
		}
		if err := env.dev.Close(); err != nil {
			return err
		}
		env.closed = true
		return nil
	})
}

func (env *Environment) snapshotDBsLocked() {
	descs := make([]dbDescriptor, 0, len(env.dbs))
	for id, db := range env.dbs {
		descs = append(descs, dbDescriptor{
			ID: id, Name: db.name, RootPageID: db.index.Root(),
			KeyType: db.cfg.KeyType, KeySize: db.cfg.KeySize,
			RecordSize: db.cfg.RecordSize, Flags: db.cfg.Flags,
			NextRecNo: db.index.CurrentRecordNumber(),
		})
	}
	env.meta.Databases = descs
}

// CreateDatabase allocates a new, empty database named name and returns a
// handle to it.
func (env *Environment) CreateDatabase(name string, dcfg DatabaseConfig) (*Database, error) {
	var db *Database
	err := env.withLock(func() error {
		for _, d := range env.dbs {
			if d.name == name {
				return fmt.Errorf("pagedb: database %q already exists", name)
			}
		}
		cs := changeset.New(env.cache)
		idx, err := btree.Open(cs, env.cache, env.blobs, env.cfg.pageSize(), dcfg.KeyType, dcfg.comparator(), page.NilID, dcfg.Flags.recNoWidth(), 0)
		if err != nil {
			return err
		}
		lsn := uint64(0)
		if env.jrnl != nil {
			lsn = env.jrnl.NextLSN()
		}
		if err := cs.Flush(lsn, env.jrnl, env.cfg.Flags&FlagEnableFsync != 0); err != nil {
			return env.fail(err)
		}
		id := env.meta.NextDBID
		env.meta.NextDBID++
		db = &Database{env: env, id: id, name: name, cfg: dcfg, index: idx}
		env.dbs[id] = db
		env.snapshotDBsLocked()
		if env.cfg.Flags&FlagInMemory == 0 {
			return writeMeta(env.path, env.meta)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return db, nil
}

// Databases returns the ids of every database currently in the
// environment's descriptor table.
func (env *Environment) Databases() []uint32 {
	env.mu.Lock()
	defer env.mu.Unlock()
	ids := make([]uint32, 0, len(env.dbs))
	for id := range env.dbs {
		ids = append(ids, id)
	}
	return ids
}

// OpenDatabase returns the already-open handle for dbID.
func (env *Environment) OpenDatabase(dbID uint32) (*Database, error) {
	var db *Database
	err := env.withLock(func() error {
		d, ok := env.dbs[dbID]
		if !ok {
			return fmt.Errorf("pagedb: no such database %d", dbID)
		}
		db = d
		return nil
	})
	return db, err
}

// EraseDatabase removes a database and its descriptor. It does not
// reclaim the database's pages back to the device freelist (spec §6's
// Non-goal on space reclamation across databases).
func (env *Environment) EraseDatabase(dbID uint32) error {
	return env.withLock(func() error {
		if _, ok := env.dbs[dbID]; !ok {
			return fmt.Errorf("pagedb: no such database %d", dbID)
		}
		delete(env.dbs, dbID)
		env.snapshotDBsLocked()
		if env.cfg.Flags&FlagInMemory == 0 {
			return writeMeta(env.path, env.meta)
		}
		return nil
	})
}

// RenameDatabase changes dbID's stored name.
func (env *Environment) RenameDatabase(dbID uint32, newName string) error {
	return env.withLock(func() error {
		d, ok := env.dbs[dbID]
		if !ok {
			return fmt.Errorf("pagedb: no such database %d", dbID)
		}
		d.name = newName
		env.snapshotDBsLocked()
		if env.cfg.Flags&FlagInMemory == 0 {
			return writeMeta(env.path, env.meta)
		}
		return nil
	})
}

// TxnBegin opens a new explicit transaction, logging its begin record.
func (env *Environment) TxnBegin(flags uint32, name string) (*Transaction, error) {
	var tx *Transaction
	err := env.withLock(func() error {
		t, err := env.beginLocked(flags, name, false)
		if err != nil {
			return err
		}
		tx = t
		return nil
	})
	return tx, err
}

func (env *Environment) beginLocked(flags uint32, name string, temporary bool) (*Transaction, error) {
	t := env.txns.Begin(flags, name, temporary)
	if env.jrnl != nil {
		if err := env.jrnl.AppendTxnBegin(t.ID, flags, name); err != nil {
			return nil, err
		}
	}
	return &Transaction{env: env, id: t.ID}, nil
}

// commitLocked applies every operation of tx, oldest first, through each
// operation's owning database, then flushes the resulting changeset.
// Caller holds env.mu.
func (env *Environment) commitLocked(txID uint64) error {
	cs := changeset.New(env.cache)
	err := env.txns.Commit(txID, func(o *txn.Operation) error {
		db, ok := env.dbs[o.DBID]
		if !ok {
			return fmt.Errorf("pagedb: commit references unknown database %d", o.DBID)
		}
		return db.applyOp(cs, o)
	})
	if err != nil {
		return env.fail(err)
	}
	if env.jrnl != nil {
		if err := env.jrnl.AppendTxnCommit(txID); err != nil {
			return env.fail(err)
		}
	}
	lsn := uint64(0)
	if env.jrnl != nil {
		lsn = env.jrnl.NextLSN()
	}
	if err := cs.Flush(lsn, env.jrnl, env.cfg.Flags&FlagEnableFsync != 0); err != nil {
		return env.fail(err)
	}
	return nil
}

func (env *Environment) abortLocked(txID uint64) error {
	if err := env.txns.Abort(txID); err != nil {
		return err
	}
	if env.jrnl != nil {
		return env.jrnl.AppendTxnAbort(txID)
	}
	return nil
}

// ApplyInsert and ApplyErase implement recovery.Applier, replaying
// committed-but-undurable logical operations (spec §4.6 step 4) through
// the normal per-database mutation path. Called only from Open, before
// any client transaction exists.
func (env *Environment) ApplyInsert(dbID uint32, key, record []byte, dupIndex uint32, flags uint32, partialOffset, partialSize uint64) error {
	db, ok := env.dbs[dbID]
	if !ok {
		return fmt.Errorf("pagedb: recovery replay references unknown database %d", dbID)
	}
	cs := changeset.New(env.cache)
	if err := db.index.Insert(cs, key, record, dupPositionFromFlags(flags), dupIndex, flags&flagOverwrite != 0); err != nil {
		return err
	}
	return cs.Flush(env.jrnl.NextLSN(), env.jrnl, false)
}

func (env *Environment) ApplyErase(dbID uint32, key []byte, dupIndex uint32, flags uint32) error {
	db, ok := env.dbs[dbID]
	if !ok {
		return fmt.Errorf("pagedb: recovery replay references unknown database %d", dbID)
	}
	cs := changeset.New(env.cache)
	if err := db.index.Erase(cs, key); err != nil {
		return err
	}
	return cs.Flush(env.jrnl.NextLSN(), env.jrnl, false)
}

var _ recovery.Applier = (*Environment)(nil)
