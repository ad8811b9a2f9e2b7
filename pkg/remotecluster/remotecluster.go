// Package remotecluster is the C7 Remote Cluster Manager: it tracks
// peer clusters added via AddReplicaCluster, keeps an ns_client pointed
// at each peer's current coordinator leader, enforces the zone_info
// Normal/Leader/Follower authorization model, and periodically checks
// each peer's partition leader endpoints for drift.
package remotecluster

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cuemby/tablestore/pkg/adminapi"
	"github.com/cuemby/tablestore/pkg/catalog"
	"github.com/cuemby/tablestore/pkg/log"
	"github.com/cuemby/tablestore/pkg/metastore"
	"github.com/cuemby/tablestore/pkg/op"
	"github.com/cuemby/tablestore/pkg/paths"
	"github.com/cuemby/tablestore/pkg/types"
	"github.com/rs/zerolog"
)

// Peer is a client for one remote coordinator's admin RPC surface,
// used both to query ShowAllTable during AddReplicaCluster validation
// and to mirror local operations via the *Remote OP types.
type Peer interface {
	ShowAllTable(ctx context.Context) ([]*types.Table, error)
	LeaderEndpoint(ctx context.Context) (string, error)
	CreateTableRemote(ctx context.Context, req adminapi.CreateTableRequest) error
	AddReplicaNSRemote(ctx context.Context, req adminapi.AddReplicaNSRequest) error
	DelReplicaNSRemote(ctx context.Context, req adminapi.DelReplicaNSRequest) error
}

// PeerDialer resolves a ClusterInfo's endpoint into a Peer client.
type PeerDialer interface {
	DialPeer(info *types.ClusterInfo) (Peer, error)
}

// Manager owns every peer ClusterInfo the coordinator knows about.
type Manager struct {
	mu    sync.RWMutex
	peers map[string]*types.ClusterInfo

	zone types.ZoneInfo

	store   metastore.Client
	catalog *catalog.Catalog
	dialer  PeerDialer
	engine  *op.Engine
	logger  zerolog.Logger

	driftMu  sync.Mutex
	lastSeen map[string]string // "alias/db/name/pid" -> leader endpoint last observed
}

func New(store metastore.Client, cat *catalog.Catalog) *Manager {
	return &Manager{
		peers:    make(map[string]*types.ClusterInfo),
		store:    store,
		catalog:  cat,
		logger:   log.WithComponent("remote-cluster"),
		lastSeen: make(map[string]string),
	}
}

// SetDialer wires the peer RPC dialer; separated from New so tests can
// construct a Manager without a working transport.
func (m *Manager) SetDialer(d PeerDialer) { m.dialer = d }

// SetEngine wires the OP Engine this Manager drives its *Remote mirror
// OPs through, and registers their composite handlers. Separated from
// New like SetDialer, so tests can construct a Manager without a live
// Engine.
func (m *Manager) SetEngine(e *op.Engine) {
	m.engine = e
	e.RegisterComposite("CreateTableRemote", m.compCreateTableRemote)
	e.RegisterComposite("AddReplicaRemote", m.compAddReplicaRemote)
	e.RegisterComposite("AddReplicaSimplyRemote", m.compAddReplicaSimplyRemote)
	e.RegisterComposite("DelReplicaRemote", m.compDelReplicaRemote)
}

// Recover reloads every persisted peer ClusterInfo and this cluster's
// own Follower-mode ZoneInfo, if any.
func (m *Manager) Recover(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	aliases, err := m.store.Children(ctx, paths.ClusterReplica)
	if err != nil {
		return fmt.Errorf("list replica clusters: %w", err)
	}
	for _, alias := range aliases {
		raw, err := m.store.Get(ctx, paths.ClusterReplicaAlias(alias))
		if err != nil {
			continue
		}
		var info types.ClusterInfo
		if err := json.Unmarshal(raw, &info); err != nil {
			m.logger.Warn().Err(err).Str("alias", alias).Msg("failed to decode peer cluster info")
			continue
		}
		m.peers[alias] = &info
	}

	if raw, err := m.store.Get(ctx, paths.ClusterFollower); err == nil {
		_ = json.Unmarshal(raw, &m.zone)
	}
	return nil
}

// ValidationError explains why AddReplicaCluster was rejected.
type ValidationError string

func (e ValidationError) Error() string { return string(e) }

// AddReplicaCluster validates and persists a new peer (spec §4.7). The
// schema-match and offset-safety checks run against the tables this
// function is given, since gathering local per-partition snapshot
// offsets is the tablet registry's/task layer's job, not this
// package's.
func (m *Manager) AddReplicaCluster(ctx context.Context, info types.ClusterInfo, peerTables []*types.Table, localOffsets map[string]map[int]uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.peers[info.Alias]; exists {
		return ValidationError(fmt.Sprintf("replica cluster alias %q already exists", info.Alias))
	}

	localTables := m.catalog.ListTables("")
	byName := make(map[string]*types.Table, len(peerTables))
	for _, t := range peerTables {
		byName[t.Name] = t
	}

	for _, local := range localTables {
		peer, ok := byName[local.Name]
		if !ok {
			continue // table absent on peer: CreateTableRemoteOP handles it, not a divergence risk
		}
		if err := schemasMatch(local, peer); err != nil {
			return ValidationError(fmt.Sprintf("table %q schema mismatch with peer %q: %v", local.Name, info.Alias, err))
		}
		if err := offsetsSafe(local, peer, localOffsets[local.Name]); err != nil {
			return ValidationError(fmt.Sprintf("table %q: %v", local.Name, err))
		}
	}

	raw, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encode cluster info: %w", err)
	}
	if err := m.store.Set(ctx, paths.ClusterReplicaAlias(info.Alias), raw); err != nil {
		return err
	}
	cp := info
	m.peers[info.Alias] = &cp
	return nil
}

// schemasMatch compares column descs, column keys, TTL, partition
// count, compression, and added columns between local and peer.
func schemasMatch(local, peer *types.Table) error {
	if len(local.Columns) != len(peer.Columns) {
		return fmt.Errorf("column count differs")
	}
	for i := range local.Columns {
		if local.Columns[i] != peer.Columns[i] {
			return fmt.Errorf("column %d differs", i)
		}
	}
	if len(local.ColumnKeys) != len(peer.ColumnKeys) {
		return fmt.Errorf("column key count differs")
	}
	if local.TTL != peer.TTL {
		return fmt.Errorf("ttl differs")
	}
	if local.PartitionNum != peer.PartitionNum {
		return fmt.Errorf("partition count differs")
	}
	if local.Compression != peer.Compression {
		return fmt.Errorf("compression differs")
	}
	if len(local.AddedColumns) != len(peer.AddedColumns) {
		return fmt.Errorf("added column count differs")
	}
	return nil
}

// offsetsSafe rejects if the peer leader's offset per partition is
// behind the local snapshot offset for that partition (data divergence
// risk) or if the peer has no leader entry for a partition that
// localByPid lists.
func offsetsSafe(local, peer *types.Table, localByPid map[int]uint64) error {
	peerOffsetByPid := make(map[int]uint64, len(peer.TablePartition))
	for _, tp := range peer.TablePartition {
		if l := tp.Leader(); l != nil {
			peerOffsetByPid[tp.Pid] = l.Offset
		}
	}
	for pid, localOffset := range localByPid {
		peerOffset, ok := peerOffsetByPid[pid]
		if !ok {
			return fmt.Errorf("pid %d: peer has no local shadow", pid)
		}
		if peerOffset < localOffset {
			return fmt.Errorf("pid %d: peer offset %d behind local snapshot offset %d", pid, peerOffset, localOffset)
		}
	}
	return nil
}

// AddReplicaClusterDial dials info's endpoint, pulls its current table
// set, derives this cluster's local per-partition leader offsets from
// the catalog already in memory, and runs those through
// AddReplicaCluster. This is the entry point pkg/rpcserver's
// AddReplicaCluster handler calls; AddReplicaCluster itself stays
// dialer-free so tests can exercise the validation rules directly.
func (m *Manager) AddReplicaClusterDial(ctx context.Context, info types.ClusterInfo) error {
	if m.dialer == nil {
		return ValidationError("no peer dialer configured")
	}
	peer, err := m.dialer.DialPeer(&info)
	if err != nil {
		return fmt.Errorf("dial peer %q: %w", info.Alias, err)
	}
	peerTables, err := peer.ShowAllTable(ctx)
	if err != nil {
		return fmt.Errorf("query peer %q tables: %w", info.Alias, err)
	}

	localOffsets := make(map[string]map[int]uint64)
	for _, tbl := range m.catalog.ListTables("") {
		byPid := make(map[int]uint64, len(tbl.TablePartition))
		for _, tp := range tbl.TablePartition {
			if l := tp.Leader(); l != nil {
				byPid[tp.Pid] = l.Offset
			}
		}
		localOffsets[tbl.Name] = byPid
	}

	if err := m.AddReplicaCluster(ctx, info, peerTables, localOffsets); err != nil {
		return err
	}

	peerByName := make(map[string]*types.Table, len(peerTables))
	for _, t := range peerTables {
		peerByName[t.Name] = t
	}
	for _, local := range m.catalog.ListTables("") {
		if _, present := peerByName[local.Name]; present {
			m.enqueueAddReplicaSimplyRemote(ctx, info.Alias, local)
		} else {
			m.enqueueCreateTableRemote(ctx, info.Alias, local)
		}
	}
	return nil
}

// enqueueCreateTableRemote drives one CreateTableRemoteOP for tbl,
// which is absent on peer alias (spec §4.7's "Adding a peer" step and
// §4.5's CreateTableRemote row), then one AddReplicaRemoteOP for each
// partition that has a leader.
func (m *Manager) enqueueCreateTableRemote(ctx context.Context, alias string, tbl *types.Table) {
	payload := op.Payload{
		"alias": alias,
		"req": adminapi.CreateTableRequest{
			Db: tbl.Db, Name: tbl.Name, Columns: tbl.Columns, ColumnKeys: tbl.ColumnKeys,
			TTL: tbl.TTL, PartitionNum: tbl.PartitionNum, ReplicaNum: tbl.ReplicaNum, Compression: tbl.Compression,
		},
	}
	m.createOP(ctx, types.OpCreateTableRemote, payload, tbl.Db, tbl.Name, 0)
	for _, tp := range tbl.TablePartition {
		if l := tp.Leader(); l != nil {
			m.enqueueAddReplicaRemote(ctx, alias, tbl.Db, tbl.Name, tp.Pid, l.Endpoint)
		}
	}
}

// enqueueAddReplicaSimplyRemote drives AddReplicaSimplyRemoteOP for
// every partition of tbl that already exists on peer alias: the peer
// table is assumed to exist already, only the replica link needs
// registering.
func (m *Manager) enqueueAddReplicaSimplyRemote(ctx context.Context, alias string, tbl *types.Table) {
	for _, tp := range tbl.TablePartition {
		l := tp.Leader()
		if l == nil {
			continue
		}
		payload := op.Payload{
			"alias": alias,
			"req":   adminapi.AddReplicaNSRequest{Db: tbl.Db, Name: tbl.Name, Pid: tp.Pid, Endpoint: l.Endpoint},
		}
		m.createOP(ctx, types.OpAddReplicaSimplyRemote, payload, tbl.Db, tbl.Name, tp.Pid)
	}
}

func (m *Manager) enqueueAddReplicaRemote(ctx context.Context, alias, db, name string, pid int, endpoint string) {
	payload := op.Payload{
		"alias": alias,
		"req":   adminapi.AddReplicaNSRequest{Db: db, Name: name, Pid: pid, Endpoint: endpoint},
	}
	m.createOP(ctx, types.OpAddReplicaRemote, payload, db, name, pid)
}

func (m *Manager) enqueueDelReplicaRemote(ctx context.Context, alias, db, name string, pid int, endpoint string) {
	payload := op.Payload{
		"alias": alias,
		"req":   adminapi.DelReplicaNSRequest{Db: db, Name: name, Pid: pid, Endpoint: endpoint},
	}
	m.createOP(ctx, types.OpDelReplicaRemote, payload, db, name, pid)
}

func (m *Manager) createOP(ctx context.Context, opType types.OpType, payload op.Payload, db, name string, pid int) {
	if m.engine == nil {
		m.logger.Warn().Str("op_type", string(opType)).Msg("no OP engine wired, cannot mirror to peer")
		return
	}
	o, err := m.engine.CreateOPData(ctx, opType, payload, name, db, pid, 0, 0)
	if err != nil {
		m.logger.Warn().Err(err).Str("op_type", string(opType)).Msg("failed to create remote mirror op")
		return
	}
	m.engine.AddOPData(o)
}

// compCreateTableRemote mirrors CreateTable onto one peer cluster.
func (m *Manager) compCreateTableRemote(ctx context.Context, o *types.OPData, t *types.Task) types.OpStatus {
	alias, peer, ok := m.dialAliasFromPayload(o)
	if !ok {
		return types.StatusFailed
	}
	var req adminapi.CreateTableRequest
	if !decodeReq(o, "req", &req) {
		return types.StatusFailed
	}
	if err := peer.CreateTableRemote(ctx, req); err != nil {
		m.logger.Warn().Err(err).Str("alias", alias).Msg("CreateTableRemote failed")
		return types.StatusFailed
	}
	return types.StatusDone
}

// compAddReplicaRemote and compAddReplicaSimplyRemote both register a
// replica link on the peer and record it locally under
// remote_partition_meta; AddReplicaSimplyRemote skips CreateTableRemote
// because the peer is assumed to already have the table (spec §4.5).
func (m *Manager) compAddReplicaRemote(ctx context.Context, o *types.OPData, t *types.Task) types.OpStatus {
	return m.addReplicaRemote(ctx, o)
}

func (m *Manager) compAddReplicaSimplyRemote(ctx context.Context, o *types.OPData, t *types.Task) types.OpStatus {
	return m.addReplicaRemote(ctx, o)
}

func (m *Manager) addReplicaRemote(ctx context.Context, o *types.OPData) types.OpStatus {
	alias, peer, ok := m.dialAliasFromPayload(o)
	if !ok {
		return types.StatusFailed
	}
	var req adminapi.AddReplicaNSRequest
	if !decodeReq(o, "req", &req) {
		return types.StatusFailed
	}
	if err := peer.AddReplicaNSRemote(ctx, req); err != nil {
		m.logger.Warn().Err(err).Str("alias", alias).Msg("AddReplicaRemote failed")
		return types.StatusFailed
	}
	meta := types.RemotePartitionMeta{Alias: alias, Endpoint: req.Endpoint, IsLeader: true, IsAlive: true}
	if err := m.catalog.UpsertRemotePartitionMeta(ctx, o.Db, o.Name, o.Pid, meta); err != nil {
		m.logger.Warn().Err(err).Msg("AddReplicaRemote: failed to record remote_partition_meta")
		return types.StatusFailed
	}
	m.rememberLeader(alias, o.Db, o.Name, o.Pid, req.Endpoint)
	return types.StatusDone
}

// compDelReplicaRemote retires a peer-cluster replica link.
func (m *Manager) compDelReplicaRemote(ctx context.Context, o *types.OPData, t *types.Task) types.OpStatus {
	alias, peer, ok := m.dialAliasFromPayload(o)
	if !ok {
		return types.StatusFailed
	}
	var req adminapi.DelReplicaNSRequest
	if !decodeReq(o, "req", &req) {
		return types.StatusFailed
	}
	if err := peer.DelReplicaNSRemote(ctx, req); err != nil {
		m.logger.Warn().Err(err).Str("alias", alias).Msg("DelReplicaRemote failed")
		return types.StatusFailed
	}
	if err := m.catalog.RemoveRemotePartitionMeta(ctx, o.Db, o.Name, o.Pid, alias, req.Endpoint); err != nil {
		m.logger.Warn().Err(err).Msg("DelReplicaRemote: failed to drop remote_partition_meta")
		return types.StatusFailed
	}
	return types.StatusDone
}

func (m *Manager) dialAliasFromPayload(o *types.OPData) (string, Peer, bool) {
	var p struct {
		Alias string `json:"alias"`
	}
	if err := json.Unmarshal(o.Data, &p); err != nil || p.Alias == "" {
		return "", nil, false
	}
	m.mu.RLock()
	info, ok := m.peers[p.Alias]
	m.mu.RUnlock()
	if !ok || m.dialer == nil {
		return p.Alias, nil, false
	}
	peer, err := m.dialer.DialPeer(info)
	if err != nil {
		m.logger.Warn().Err(err).Str("alias", p.Alias).Msg("failed to dial peer for mirror op")
		return p.Alias, nil, false
	}
	return p.Alias, peer, true
}

// decodeReq pulls payload[key] back into out; op.Payload round-trips
// through JSON so the nested request struct arrives as a generic map
// that needs a second unmarshal rather than a type assertion.
func decodeReq(o *types.OPData, key string, out interface{}) bool {
	var p map[string]json.RawMessage
	if err := json.Unmarshal(o.Data, &p); err != nil {
		return false
	}
	raw, ok := p[key]
	if !ok {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}

func (m *Manager) rememberLeader(alias, db, name string, pid int, endpoint string) {
	m.driftMu.Lock()
	defer m.driftMu.Unlock()
	m.lastSeen[driftKey(alias, db, name, pid)] = endpoint
}

func driftKey(alias, db, name string, pid int) string {
	return fmt.Sprintf("%s/%s/%s/%d", alias, db, name, pid)
}

// CheckClusterInfo is the periodic drift check (spec §4.7): for every
// healthy peer, ShowAllTable is compared against the local catalog; a
// partition whose peer leader endpoint changed since last observed
// gets its old peer endpoint retired via DelReplicaRemoteOP and the
// new one registered via AddReplicaSimplyRemoteOP. Peers are checked
// one after another on the caller's goroutine: a dial or ShowAllTable
// error on one peer is logged and skipped, but a call that blocks holds
// up the peers after it.
func (m *Manager) CheckClusterInfo(ctx context.Context) {
	if m.dialer == nil {
		return
	}
	for _, info := range m.List() {
		if info.State != types.ClusterHealthy {
			continue
		}
		m.checkPeerDrift(ctx, info)
	}
}

func (m *Manager) checkPeerDrift(ctx context.Context, info *types.ClusterInfo) {
	peer, err := m.dialer.DialPeer(info)
	if err != nil {
		m.logger.Warn().Err(err).Str("alias", info.Alias).Msg("CheckClusterInfo: dial failed")
		return
	}
	peerTables, err := peer.ShowAllTable(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Str("alias", info.Alias).Msg("CheckClusterInfo: ShowAllTable failed")
		return
	}
	peerByName := make(map[string]*types.Table, len(peerTables))
	for _, t := range peerTables {
		peerByName[t.Name] = t
	}
	for _, local := range m.catalog.ListTables("") {
		peerTbl, ok := peerByName[local.Name]
		if !ok {
			continue
		}
		for _, tp := range peerTbl.TablePartition {
			l := tp.Leader()
			if l == nil {
				continue
			}
			key := driftKey(info.Alias, local.Db, local.Name, tp.Pid)
			m.driftMu.Lock()
			prev, seen := m.lastSeen[key]
			m.driftMu.Unlock()
			if seen && prev != l.Endpoint {
				m.enqueueDelReplicaRemote(ctx, info.Alias, local.Db, local.Name, tp.Pid, prev)
				m.createOP(ctx, types.OpAddReplicaSimplyRemote, op.Payload{
					"alias": info.Alias,
					"req":   adminapi.AddReplicaNSRequest{Db: local.Db, Name: local.Name, Pid: tp.Pid, Endpoint: l.Endpoint},
				}, local.Db, local.Name, tp.Pid)
			}
			m.rememberLeader(info.Alias, local.Db, local.Name, tp.Pid, l.Endpoint)
		}
	}
}

// RemoveReplicaCluster drops a peer.
func (m *Manager) RemoveReplicaCluster(ctx context.Context, alias string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.peers[alias]; !ok {
		return ValidationError(fmt.Sprintf("replica cluster alias %q does not exist", alias))
	}
	if err := m.store.Delete(ctx, paths.ClusterReplicaAlias(alias)); err != nil {
		return err
	}
	delete(m.peers, alias)
	return nil
}

// List returns every known peer.
func (m *Manager) List() []*types.ClusterInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.ClusterInfo, 0, len(m.peers))
	for _, p := range m.peers {
		cp := *p
		out = append(out, &cp)
	}
	return out
}

// SwitchMode changes this cluster's own zone mode (Normal/Leader/Follower).
func (m *Manager) SwitchMode(ctx context.Context, zone types.ZoneInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, err := json.Marshal(zone)
	if err != nil {
		return err
	}
	if zone.Mode == types.ClusterModeFollower {
		if err := m.store.Set(ctx, paths.ClusterFollower, raw); err != nil {
			return err
		}
	} else if err := m.store.Delete(ctx, paths.ClusterFollower); err != nil {
		return err
	}
	m.zone = zone
	return nil
}

// Zone returns this cluster's current zone mode/authorization info.
func (m *Manager) Zone() types.ZoneInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.zone
}

// SyncTable re-validates one local table against alias's current copy
// on demand (the SyncTable admin command), reusing the same
// schema/offset checks AddReplicaCluster runs for every table at link
// time. It never moves data itself — the tablet layer's own
// binlog/snapshot replication keeps a linked peer caught up — this is
// strictly a drift check an operator can trigger after suspecting a
// peer fell behind.
func (m *Manager) SyncTable(ctx context.Context, alias, tableName string) error {
	m.mu.RLock()
	info, ok := m.peers[alias]
	m.mu.RUnlock()
	if !ok {
		return ValidationError(fmt.Sprintf("replica cluster alias %q does not exist", alias))
	}
	if m.dialer == nil {
		return ValidationError("no peer dialer configured")
	}
	peer, err := m.dialer.DialPeer(info)
	if err != nil {
		return fmt.Errorf("dial peer %q: %w", alias, err)
	}
	peerTables, err := peer.ShowAllTable(ctx)
	if err != nil {
		return fmt.Errorf("query peer %q tables: %w", alias, err)
	}
	var peerTbl *types.Table
	for _, t := range peerTables {
		if t.Name == tableName {
			peerTbl = t
			break
		}
	}
	if peerTbl == nil {
		return ValidationError(fmt.Sprintf("table %q not found on peer %q", tableName, alias))
	}
	local := m.catalog.ListTables("")
	var localTbl *types.Table
	for _, t := range local {
		if t.Name == tableName {
			localTbl = t
			break
		}
	}
	if localTbl == nil {
		return ValidationError(fmt.Sprintf("table %q not found locally", tableName))
	}
	if err := schemasMatch(localTbl, peerTbl); err != nil {
		return ValidationError(fmt.Sprintf("table %q schema mismatch with peer %q: %v", tableName, alias, err))
	}
	byPid := make(map[int]uint64, len(localTbl.TablePartition))
	for _, tp := range localTbl.TablePartition {
		if l := tp.Leader(); l != nil {
			byPid[tp.Pid] = l.Offset
		}
	}
	return offsetsSafe(localTbl, peerTbl, byPid)
}

// Authorize implements the Follower-mode gate on admin RPCs: in
// Follower mode, only the paired leader, presenting a matching
// zone_term, may issue mutating commands.
func (m *Manager) Authorize(callerZone types.ZoneInfo) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.zone.Mode != types.ClusterModeFollower {
		return nil
	}
	if callerZone.ZoneName != m.zone.ZoneName || callerZone.ZoneTerm != m.zone.ZoneTerm {
		return ValidationError("zone_info mismatch")
	}
	return nil
}
