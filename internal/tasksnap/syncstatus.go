package tasksnap

import (
	"context"
	"sync"
	"time"
)

// SyncState is the replication health reported by the SyncMonitor.
type SyncState int

const (
	SyncNotStarted SyncState = iota
	SyncSyncing
	SyncSynced
	SyncError
	SyncOffline
)

func (s SyncState) String() string {
	switch s {
	case SyncNotStarted:
		return "not-started"
	case SyncSyncing:
		return "syncing"
	case SyncSynced:
		return "synced"
	case SyncError:
		return "error"
	case SyncOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// SyncStatus is a point-in-time view of replication health.
type SyncStatus struct {
	State        SyncState
	LastSyncedAt time.Time // zero until the first successful sync
	Err          error     // set in SyncError
}

// StatusReporter receives replication lifecycle notifications.
type StatusReporter interface {
	ReplicationStarting()
	ReplicationAttached()
	ReplicationFailed(err error)
	ReplicationDisabled()
}

// AccountProbe reports whether the remote account behind a replica is reachable.
type AccountProbe interface {
	ValidateSetup() error
}

// SyncMonitor is the observable replication health state machine. It only
// reports on the store and never mutates it. Transitions are applied in the
// order calls arrive.
type SyncMonitor struct {
	mu      sync.Mutex
	status  SyncStatus
	enabled bool
	events  *broadcaster[SyncStatus]
	clock   Clock
	logger  Logger
}

var _ StatusReporter = (*SyncMonitor)(nil)

// NewSyncMonitor creates a monitor. When replication is already enabled at
// startup the monitor starts out Synced.
func NewSyncMonitor(replicationEnabled bool, clock Clock, logger Logger) *SyncMonitor {
	m := &SyncMonitor{
		enabled: replicationEnabled,
		events:  newBroadcaster[SyncStatus](),
		clock:   clock,
		logger:  logger,
	}
	if replicationEnabled {
		m.status.State = SyncSynced
	}
	return m
}

// Status returns the current status.
func (m *SyncMonitor) Status() SyncStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Subscribe registers for status changes. Call cancel to unsubscribe.
func (m *SyncMonitor) Subscribe(buffer int) (updates <-chan SyncStatus, cancel func()) {
	return m.events.subscribe(buffer)
}

// setLocked applies a transition and notifies subscribers. Must hold m.mu.
func (m *SyncMonitor) setLocked(state SyncState, err error) {
	prev := m.status.State
	m.status.State = state
	m.status.Err = err
	if state == SyncSynced {
		m.status.LastSyncedAt = m.clock.Now()
	}
	if prev != state {
		m.logger.Debug("sync status changed", "from", prev.String(), "to", state.String())
	}
	m.events.publish(m.status)
}

// ReplicationStarting records that replication is being enabled.
func (m *SyncMonitor) ReplicationStarting() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(SyncSyncing, nil)
}

// ReplicationAttached records a successful reattachment with a replica.
func (m *SyncMonitor) ReplicationAttached() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = true
	m.setLocked(SyncSynced, nil)
}

// ReplicationFailed records a failed reattachment.
func (m *SyncMonitor) ReplicationFailed(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(SyncError, err)
}

// ReplicationDisabled records an explicit disable.
func (m *SyncMonitor) ReplicationDisabled() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = false
	m.setLocked(SyncOffline, nil)
}

// ManualSyncRequested moves to Syncing when replication is enabled.
func (m *SyncMonitor) ManualSyncRequested() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.enabled {
		return
	}
	m.setLocked(SyncSyncing, nil)
}

// SyncSucceeded records a successful push to or sync with the replica.
func (m *SyncMonitor) SyncSucceeded() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.enabled {
		return
	}
	m.setLocked(SyncSynced, nil)
}

// SyncFailed records a failed push to or sync with the replica.
func (m *SyncMonitor) SyncFailed(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.enabled {
		return
	}
	m.setLocked(SyncError, err)
}

// RemoteChangeReceived records a change that originated on the replica.
// Repeated calls leave the monitor Synced and only move the timestamp.
func (m *SyncMonitor) RemoteChangeReceived() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.enabled {
		return
	}
	m.setLocked(SyncSynced, nil)
}

// SetAccountAvailable records an observation of remote account
// availability. Losing the account while Syncing or Synced is an error.
func (m *SyncMonitor) SetAccountAvailable(available bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if available || !m.enabled {
		return
	}
	if m.status.State == SyncSyncing || m.status.State == SyncSynced {
		m.setLocked(SyncError, ErrReplicaUnavailable)
	}
}

// WatchAccount polls probe every interval until ctx is done, feeding the
// result to SetAccountAvailable.
func (m *SyncMonitor) WatchAccount(ctx context.Context, probe AccountProbe, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := probe.ValidateSetup()
			if err != nil {
				m.logger.Warn("replica account unavailable", "error", err)
			}
			m.SetAccountAvailable(err == nil)
		}
	}
}

// Watch consumes store events until ctx is done or the channel closes.
func (m *SyncMonitor) Watch(ctx context.Context, events <-chan StoreEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case RemoteChanged:
				m.RemoteChangeReceived()
			case ReplicaPushed:
				m.SyncSucceeded()
			case ReplicaPushFailed:
				m.SyncFailed(ev.Err)
			}
		}
	}
}
