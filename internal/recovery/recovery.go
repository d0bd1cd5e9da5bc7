// Package recovery implements spec §4.6's five-step recovery algorithm,
// run by Environment.Open when the clean-shutdown bit in the store's meta
// file is false and the environment was opened with FlagEnableRecovery.
// FlagAutoRecovery is not consulted.
package recovery

import (
	"errors"
	"sort"

	"github.com/pagedb/pagedb/internal/device"
	"github.com/pagedb/pagedb/internal/journal"
)

// ErrTornChangeset is returned when a changeset entry references a page
// id outside the device's current size, per spec §4.6's torn-changeset
// detection.
var ErrTornChangeset = errors.New("recovery: changeset references page outside device bounds")

// Applier replays a single logical insert/erase operation through the
// normal mutation path (BtreeIndex + Changeset), used only for step 4:
// committed operations whose LSN is newer than the last durable
// changeset. Implemented by the pagedb package, which is the only layer
// that knows how to map a db id to its BtreeIndex.
type Applier interface {
	ApplyInsert(dbID uint32, key, record []byte, dupIndex uint32, flags uint32, partialOffset, partialSize uint64) error
	ApplyErase(dbID uint32, key []byte, dupIndex uint32, flags uint32) error
}

// Report summarizes what recovery did, for logging and `pagedbctl`.
type Report struct {
	LSNDurable     uint64
	MaxLSN         uint64
	PagesRestored  int
	TxnsRolledBack int
	OpsReplayed    int
	OpsRolledBack  int
}

// Recover runs spec §4.6's algorithm against dev using jrnl's two files,
// replaying operations newer than the last durable changeset through
// applier, and leaves the journal truncated and reset.
func Recover(dev device.Device, jrnl *journal.Journal, pageSize int, applier Applier) (Report, error) {
	entries, err := jrnl.ScanAll()
	if err != nil {
		return Report{}, err
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].LSN < entries[j].LSN })

	var report Report
	var lsnDurable uint64
	for _, e := range entries {
		if e.Kind == journal.KindChangeset && e.LSN > lsnDurable {
			lsnDurable = e.LSN
		}
		if e.LSN > report.MaxLSN {
			report.MaxLSN = e.LSN
		}
	}
	report.LSNDurable = lsnDurable

	size, err := dev.Size()
	if err != nil {
		return Report{}, err
	}

	// Step 2: apply every changeset record up to lsn_durable.
	for _, e := range entries {
		if e.Kind != journal.KindChangeset || e.LSN > lsnDurable {
			continue
		}
		for _, p := range e.ChangesetPages {
			if int64(p.ID)+int64(len(p.Bytes)) > size {
				return report, ErrTornChangeset
			}
			if err := dev.Write(int64(p.ID), p.Bytes); err != nil {
				return report, err
			}
			report.PagesRestored++
		}
	}

	// Step 3: classify every transaction seen in the log.
	type txnState struct {
		committed bool
		aborted   bool
	}
	states := make(map[uint64]*txnState)
	stateOf := func(id uint64) *txnState {
		s, ok := states[id]
		if !ok {
			s = &txnState{}
			states[id] = s
		}
		return s
	}
	for _, e := range entries {
		switch e.Kind {
		case journal.KindTxnBegin:
			stateOf(e.TxnID)
		case journal.KindTxnCommit:
			stateOf(e.TxnID).committed = true
		case journal.KindTxnAbort:
			stateOf(e.TxnID).aborted = true
		}
	}
	for _, s := range states {
		if !s.committed && !s.aborted {
			s.aborted = true
			report.TxnsRolledBack++
		}
	}

	// Step 4: replay committed ops newer than lsn_durable, in LSN order
	// (entries is already LSN-sorted).
	for _, e := range entries {
		if e.LSN <= lsnDurable {
			continue
		}
		switch e.Kind {
		case journal.KindInsert:
			if !stateOf(e.TxnID).committed {
				report.OpsRolledBack++
				continue
			}
			if err := applier.ApplyInsert(e.DBID, e.Key, e.Record, e.DupIndex, e.Flags, e.PartialOffset, e.PartialSize); err != nil {
				return report, err
			}
			report.OpsReplayed++
		case journal.KindErase:
			if !stateOf(e.TxnID).committed {
				report.OpsRolledBack++
				continue
			}
			if err := applier.ApplyErase(e.DBID, e.Key, e.DupIndex, e.Flags); err != nil {
				return report, err
			}
			report.OpsReplayed++
		}
	}

	// Step 5: rewrite the journal header/reset LSN/truncate.
	if err := jrnl.Truncate(report.MaxLSN); err != nil {
		return report, err
	}
	return report, nil
}
