package tasksnap

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"tasksnap/internal/model"
)

// ObjectStore is the durable graph of domain records. Reads and mutations
// work against an in-memory working copy; Commit flushes pending changes to
// the attached backend. All operations are serialized by a single mutex, so
// concurrent commits queue behind each other.
type ObjectStore struct {
	mu      sync.Mutex
	backend Backend
	config  StoreConfig
	records map[model.Kind]map[uuid.UUID]model.Record
	upserts map[model.Kind]map[uuid.UUID]model.Record
	deletes map[model.Kind]map[uuid.UUID]struct{}

	events *broadcaster[StoreEvent]
	logger Logger
	clock  Clock
}

// NewObjectStore creates a detached, empty store. Call Attach before
// committing.
func NewObjectStore(logger Logger, clock Clock) *ObjectStore {
	s := &ObjectStore{
		events: newBroadcaster[StoreEvent](),
		logger: logger,
		clock:  clock,
	}
	s.resetPending()
	s.records = newKindIndex()
	return s
}

func newKindIndex() map[model.Kind]map[uuid.UUID]model.Record {
	idx := make(map[model.Kind]map[uuid.UUID]model.Record, len(model.AllKinds))
	for _, k := range model.AllKinds {
		idx[k] = make(map[uuid.UUID]model.Record)
	}
	return idx
}

func (s *ObjectStore) resetPending() {
	s.upserts = newKindIndex()
	s.deletes = make(map[model.Kind]map[uuid.UUID]struct{}, len(model.AllKinds))
	for _, k := range model.AllKinds {
		s.deletes[k] = make(map[uuid.UUID]struct{})
	}
}

func (s *ObjectStore) hasPendingLocked() bool {
	for _, k := range model.AllKinds {
		if len(s.upserts[k]) > 0 || len(s.deletes[k]) > 0 {
			return true
		}
	}
	return false
}

// Subscribe registers for store events. Call cancel to unsubscribe.
func (s *ObjectStore) Subscribe(buffer int) (events <-chan StoreEvent, cancel func()) {
	return s.events.subscribe(buffer)
}

// Config returns the active store configuration.
func (s *ObjectStore) Config() StoreConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// Attached reports whether a backend is attached.
func (s *ObjectStore) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend != nil
}

// Attach opens a backend for cfg and loads its records into the working copy.
// The store must be detached.
func (s *ObjectStore) Attach(ctx context.Context, factory BackendFactory, cfg StoreConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.backend != nil {
		return fmt.Errorf("store already attached (%s)", s.config)
	}
	return s.attachLocked(ctx, factory, cfg)
}

// Reattach swaps the backend for one built from cfg. Pending changes are
// committed to the current backend before it is detached; if that commit
// fails nothing is detached. If opening the new backend fails the store is
// left detached with its working copy intact, and the caller decides how
// to recover.
func (s *ObjectStore) Reattach(ctx context.Context, factory BackendFactory, cfg StoreConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.backend != nil {
		if err := s.commitLocked(ctx); err != nil {
			return fmt.Errorf("committing before detach: %w", err)
		}
		if err := s.backend.Close(); err != nil {
			s.logger.Warn("closing backend", "config", s.config.String(), "error", err)
		}
		s.backend = nil
		s.logger.Debug("store detached", "config", s.config.String())
	}

	return s.attachLocked(ctx, factory, cfg)
}

func (s *ObjectStore) attachLocked(ctx context.Context, factory BackendFactory, cfg StoreConfig) error {
	b, err := factory.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening backend (%s): %w", cfg, err)
	}

	loaded, err := b.Load(ctx)
	if err != nil {
		b.Close()
		return fmt.Errorf("loading records (%s): %w", cfg, err)
	}

	records := newKindIndex()
	for kind, recs := range loaded {
		if _, ok := records[kind]; !ok {
			continue
		}
		for _, r := range recs {
			records[kind][r.RecordID()] = r
		}
	}

	s.backend = b
	s.config = cfg
	s.records = records

	// Changes made while detached are replayed on the new backend.
	for kind, ups := range s.upserts {
		for id, r := range ups {
			s.records[kind][id] = r
		}
	}
	for kind, dels := range s.deletes {
		for id := range dels {
			delete(s.records[kind], id)
		}
	}

	if n, ok := b.(Notifier); ok {
		go s.forward(n.Notifications())
	}

	s.logger.Info("store attached", "config", cfg.String())
	return nil
}

// forward republishes backend notifications as store events until the
// backend closes its channel.
func (s *ObjectStore) forward(ch <-chan BackendEvent) {
	for ev := range ch {
		var kind StoreEventKind
		switch ev.Kind {
		case BackendRemoteChange:
			kind = RemoteChanged
		case BackendReplicated:
			kind = ReplicaPushed
		case BackendReplicationFailed:
			kind = ReplicaPushFailed
		default:
			continue
		}
		s.events.publish(StoreEvent{Kind: kind, At: ev.At, Err: ev.Err})
	}
}

// Fetch returns copies of the records of kind matching pred, ordered by id.
func (s *ObjectStore) Fetch(kind model.Kind, pred model.Predicate) []model.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Record
	for _, r := range s.records[kind] {
		if pred.Match(r) {
			out = append(out, r.Clone())
		}
	}
	sortByID(out)
	return out
}

// Save inserts or replaces a record in the working copy.
func (s *ObjectStore) Save(r model.Record) error {
	if err := model.Validate(r); err != nil {
		return err
	}
	c := r.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	kind, id := c.Kind(), c.RecordID()
	s.records[kind][id] = c
	s.upserts[kind][id] = c
	delete(s.deletes[kind], id)
	return nil
}

// Delete removes the records of kind matching pred from the working copy and
// returns how many were removed.
func (s *ObjectStore) Delete(kind model.Kind, pred model.Predicate) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for id, r := range s.records[kind] {
		if !pred.Match(r) {
			continue
		}
		delete(s.records[kind], id)
		delete(s.upserts[kind], id)
		s.deletes[kind][id] = struct{}{}
		count++
	}
	return count
}

// Commit flushes pending changes to the backend. With nothing pending it is
// a no-op. On failure the pending changes are kept for a later retry.
func (s *ObjectStore) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitLocked(ctx)
}

func (s *ObjectStore) commitLocked(ctx context.Context) error {
	if !s.hasPendingLocked() {
		return nil
	}
	if s.backend == nil {
		return fmt.Errorf("%w: %w", ErrCommitFailed, ErrDetached)
	}

	cs := &ChangeSet{Deletes: make(map[model.Kind][]uuid.UUID)}
	for _, kind := range model.AllKinds {
		for id := range s.deletes[kind] {
			cs.Deletes[kind] = append(cs.Deletes[kind], id)
		}
		for _, r := range s.upserts[kind] {
			cs.Upserts = append(cs.Upserts, r)
		}
	}

	if err := s.backend.Apply(ctx, cs); err != nil {
		s.logger.Error("commit failed", "error", err)
		return fmt.Errorf("%w: %w", ErrCommitFailed, err)
	}

	s.resetPending()
	s.events.publish(StoreEvent{Kind: StoreChanged, At: s.clock.Now()})
	return nil
}

// Replace atomically swaps the content of the given kinds for records.
// Pending changes are committed first. If anything fails the store's
// durable and in-memory content are left as they were.
func (s *ObjectStore) Replace(ctx context.Context, kinds []model.Kind, records map[model.Kind][]model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.backend == nil {
		return ErrDetached
	}
	if err := s.commitLocked(ctx); err != nil {
		return err
	}

	cs := &ChangeSet{Clear: kinds}
	next := make(map[model.Kind]map[uuid.UUID]model.Record, len(kinds))
	for _, kind := range kinds {
		next[kind] = make(map[uuid.UUID]model.Record)
		for _, r := range records[kind] {
			if err := model.Validate(r); err != nil {
				return fmt.Errorf("invalid %s record: %w", kind, err)
			}
			c := r.Clone()
			next[kind][c.RecordID()] = c
			cs.Upserts = append(cs.Upserts, c)
		}
	}

	if err := s.backend.Apply(ctx, cs); err != nil {
		s.logger.Error("replace failed", "error", err)
		return err
	}

	for kind, recs := range next {
		s.records[kind] = recs
	}
	s.events.publish(StoreEvent{Kind: StoreChanged, At: s.clock.Now()})
	return nil
}

// All returns copies of every record grouped by kind, each group ordered by id.
func (s *ObjectStore) All() map[model.Kind][]model.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[model.Kind][]model.Record, len(model.AllKinds))
	for _, kind := range model.AllKinds {
		recs := make([]model.Record, 0, len(s.records[kind]))
		for _, r := range s.records[kind] {
			recs = append(recs, r.Clone())
		}
		sortByID(recs)
		out[kind] = recs
	}
	return out
}

// Counts returns the number of records per kind.
func (s *ObjectStore) Counts() map[model.Kind]int {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[model.Kind]int, len(model.AllKinds))
	for _, kind := range model.AllKinds {
		out[kind] = len(s.records[kind])
	}
	return out
}

// Sync asks a replicating backend to reconcile with its replica.
func (s *ObjectStore) Sync(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.backend == nil {
		return ErrDetached
	}
	if err := s.commitLocked(ctx); err != nil {
		return err
	}
	syncer, ok := s.backend.(Syncer)
	if !ok {
		return ErrReplicaUnavailable
	}
	return syncer.Sync(ctx)
}

// Close commits pending changes, detaches the backend and closes every
// subscription.
func (s *ObjectStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	if s.backend != nil {
		if err := s.commitLocked(context.Background()); err != nil {
			firstErr = err
		}
		if err := s.backend.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing backend: %w", err)
		}
		s.backend = nil
	}
	s.events.close()
	return firstErr
}

func sortByID(recs []model.Record) {
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].RecordID().String() < recs[j].RecordID().String()
	})
}
