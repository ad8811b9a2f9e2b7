// Package types defines the canonical data model shared by every name
// server component: databases, tables, partitions, tablets, operations
// and their tasks, peer cluster bookkeeping, and stored procedures.
//
// These are plain structs serialized to JSON for persistence in the
// MetaStore (see pkg/metastore) and for RPC payloads; nothing in this
// package talks to the network or to disk.
package types

import "time"

// ErrorCode is the stable numeric error enum clients depend on (spec §6).
type ErrorCode uint32

const (
	ErrOK ErrorCode = iota
	ErrNameserverIsNotLeader
	ErrTableIsNotExist
	ErrTableAlreadyExists
	ErrDatabaseNotExist
	ErrDatabaseAlreadyExists
	ErrDatabaseNotEmpty
	ErrTabletIsNotHealthy
	ErrPidIsNotExist
	ErrAutoFailoverIsEnabled
	ErrCreateOpFailed
	ErrSetZkFailed
	ErrGetZkFailed
	ErrInvalidParameter
	ErrZoneInfoMismatch
	ErrCreateProcedureFailedOnTablet
	ErrSdkEndpointDuplicate
	ErrWrongColumnKey
	ErrIdxNameNotFound
	ErrIdxNameExists
	ErrTooManyAddedColumns
	ErrSchemaVersionExhausted
	ErrProcedureReferencesTable
	ErrOpNotFound
	ErrClusterAliasDuplicate
	ErrClusterAliasNotFound
	ErrDataDivergence
)

func (c ErrorCode) String() string {
	switch c {
	case ErrOK:
		return "kOk"
	case ErrNameserverIsNotLeader:
		return "kNameserverIsNotLeader"
	case ErrTableIsNotExist:
		return "kTableIsNotExist"
	case ErrTableAlreadyExists:
		return "kTableAlreadyExists"
	case ErrDatabaseNotExist:
		return "kDatabaseNotExist"
	case ErrDatabaseAlreadyExists:
		return "kDatabaseAlreadyExists"
	case ErrDatabaseNotEmpty:
		return "kDatabaseNotEmpty"
	case ErrTabletIsNotHealthy:
		return "kTabletIsNotHealthy"
	case ErrPidIsNotExist:
		return "kPidIsNotExist"
	case ErrAutoFailoverIsEnabled:
		return "kAutoFailoverIsEnabled"
	case ErrCreateOpFailed:
		return "kCreateOpFailed"
	case ErrSetZkFailed:
		return "kSetZkFailed"
	case ErrGetZkFailed:
		return "kGetZkFailed"
	case ErrInvalidParameter:
		return "kInvalidParameter"
	case ErrZoneInfoMismatch:
		return "kZoneInfoMismatch"
	case ErrCreateProcedureFailedOnTablet:
		return "kCreateProcedureFailedOnTablet"
	case ErrSdkEndpointDuplicate:
		return "kSdkEndpointDuplicate"
	case ErrWrongColumnKey:
		return "kWrongColumnKey"
	case ErrIdxNameNotFound:
		return "kIdxNameNotFound"
	case ErrIdxNameExists:
		return "kIdxNameExists"
	case ErrTooManyAddedColumns:
		return "kTooManyAddedColumns"
	case ErrSchemaVersionExhausted:
		return "kSchemaVersionExhausted"
	case ErrProcedureReferencesTable:
		return "kProcedureReferencesTable"
	case ErrOpNotFound:
		return "kOpNotFound"
	case ErrClusterAliasDuplicate:
		return "kClusterAliasDuplicate"
	case ErrClusterAliasNotFound:
		return "kClusterAliasNotFound"
	case ErrDataDivergence:
		return "kDataDivergence"
	default:
		return "kUnknown"
	}
}

// ColumnType is a logical column type. Float/double are rejected as
// index columns (spec §8 "Float-index rejection").
type ColumnType string

const (
	ColTypeBool    ColumnType = "bool"
	ColTypeInt32   ColumnType = "int32"
	ColTypeInt64   ColumnType = "int64"
	ColTypeFloat   ColumnType = "float"
	ColTypeDouble  ColumnType = "double"
	ColTypeString  ColumnType = "string"
	ColTypeDate    ColumnType = "date"
	ColTypeTimestp ColumnType = "timestamp"
)

// ColumnDesc describes one column of a table.
type ColumnDesc struct {
	Name     string     `json:"name"`
	Type     ColumnType `json:"type"`
	IsTsCol  bool       `json:"is_ts_col"`
	Nullable bool       `json:"nullable"`
}

// ColumnKey is a named index: a set of index columns, an optional ts
// column, and a soft-deletion flag (flag==0 active, flag==1 deleted).
type ColumnKey struct {
	IndexName string   `json:"index_name"`
	ColName   []string `json:"col_name"`
	TsName    string   `json:"ts_name,omitempty"`
	Flag      int      `json:"flag"`
}

// Active reports whether this column key is live (flag==0).
func (k ColumnKey) Active() bool { return k.Flag == 0 }

// TTLType enumerates the supported TTL evaluation modes.
type TTLType string

const (
	TTLAbsolute       TTLType = "absolute"
	TTLLatest         TTLType = "latest"
	TTLAbsoluteAndLatest TTLType = "absolute-and-latest"
	TTLAbsoluteOrLatest  TTLType = "absolute-or-latest"
)

// TTLDesc describes a table's TTL policy.
type TTLDesc struct {
	Type TTLType `json:"type"`
	TTL  uint64  `json:"ttl_seconds"`
}

// VersionPair records one schema-evolution step: a strictly increasing
// version id (capped at 255) and the column count as of that version.
type VersionPair struct {
	ID         uint32 `json:"id"`
	FieldCount uint32 `json:"field_count"`
}

// PartitionMeta is one local replica of a partition.
type PartitionMeta struct {
	Endpoint           string `json:"endpoint"`
	IsLeader           bool   `json:"is_leader"`
	IsAlive            bool   `json:"is_alive"`
	Offset             uint64 `json:"offset"`
	RecordCnt          uint64 `json:"record_cnt"`
	RecordByteSize     uint64 `json:"record_byte_size"`
	DiskUsed           uint64 `json:"diskused"`
	TabletHasPartition bool   `json:"tablet_has_partition"`
	TsIdxStatus        string `json:"ts_idx_status,omitempty"`
}

// RemotePartitionMeta is one peer-cluster replica of a partition.
type RemotePartitionMeta struct {
	Alias     string `json:"alias"`
	Endpoint  string `json:"endpoint"`
	RemoteTid uint64 `json:"remote_tid"`
	IsLeader  bool   `json:"is_leader"`
	IsAlive   bool   `json:"is_alive"`
}

// TableStatus is one partition replica's live stats as reported by
// GetTableStatus, folded into its PartitionMeta by the
// TableStatusAggregator background scheduler (spec §4.9).
type TableStatus struct {
	Offset         uint64 `json:"offset"`
	RecordCnt      uint64 `json:"record_cnt"`
	RecordByteSize uint64 `json:"record_byte_size"`
	DiskUsed       uint64 `json:"diskused"`
	TsIdxStatus    string `json:"ts_idx_status"`
}

// TermOffset records a leader-term's first offset, used for catch-up.
type TermOffset struct {
	Term        uint64 `json:"term"`
	StartOffset uint64 `json:"start_offset"`
}

// TablePartition is one shard (pid) of a Table.
type TablePartition struct {
	Pid                int                    `json:"pid"`
	PartitionMeta      []PartitionMeta        `json:"partition_meta"`
	RemotePartitionMeta []RemotePartitionMeta `json:"remote_partition_meta,omitempty"`
	TermOffset         []TermOffset           `json:"term_offset"`
}

// Leader returns the sole leader+alive replica of the partition, if any.
func (p *TablePartition) Leader() *PartitionMeta {
	for i := range p.PartitionMeta {
		if p.PartitionMeta[i].IsLeader && p.PartitionMeta[i].IsAlive {
			return &p.PartitionMeta[i]
		}
	}
	return nil
}

// AliveReplicas returns every replica currently marked alive.
func (p *TablePartition) AliveReplicas() []PartitionMeta {
	var out []PartitionMeta
	for _, m := range p.PartitionMeta {
		if m.IsAlive {
			out = append(out, m)
		}
	}
	return out
}

// HasEndpoint reports whether ep appears in the local replica set.
func (p *TablePartition) HasEndpoint(ep string) bool {
	for _, m := range p.PartitionMeta {
		if m.Endpoint == ep {
			return true
		}
	}
	return false
}

// CompressionType mirrors the wire-level compression applied to segments.
type CompressionType string

const (
	CompressionNone   CompressionType = "none"
	CompressionSnappy CompressionType = "snappy"
)

// Table is the canonical description of one table, identified globally
// by Tid. Name is unique within (Db).
type Table struct {
	Tid             uint64           `json:"tid"`
	Db              string           `json:"db"`
	Name            string           `json:"name"`
	Columns         []ColumnDesc     `json:"columns"`
	ColumnKeys      []ColumnKey      `json:"column_keys"`
	TTL             TTLDesc          `json:"ttl"`
	PartitionNum    int              `json:"partition_num"`
	ReplicaNum      int              `json:"replica_num"`
	Compression     CompressionType  `json:"compression"`
	SegmentCnt      int              `json:"segment_cnt"`
	FormatVersion   int              `json:"format_version"`
	AddedColumns    []ColumnDesc     `json:"added_columns"`
	VersionPairs    []VersionPair    `json:"version_pairs"`
	TablePartition  []TablePartition `json:"table_partition"`
	Term            uint64           `json:"term"`
	CreatedAt       time.Time        `json:"created_at"`
}

// MaxAddedColumns bounds schema evolution (spec §4.3 AddField).
const MaxAddedColumns = 63

// MaxSchemaVersion is the cap on VersionPairs ids.
const MaxSchemaVersion = 255

// Database is a namespace for tables and procedures.
type Database struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// TabletState is the liveness state of a storage node.
type TabletState string

const (
	TabletHealthy TabletState = "healthy"
	TabletOffline TabletState = "offline"
)

// Tablet is one storage node record in the registry.
type Tablet struct {
	Endpoint     string      `json:"endpoint"`
	RealEndpoint string      `json:"real_endpoint,omitempty"`
	State        TabletState `json:"state"`
	Ctime        time.Time   `json:"ctime"`
}

// OpType enumerates every OP the engine knows how to build/recover.
type OpType string

const (
	OpMakeSnapshot       OpType = "MakeSnapshot"
	OpAddReplica         OpType = "AddReplica"
	OpReAddReplica       OpType = "ReAddReplica"
	OpReAddReplicaNoSend OpType = "ReAddReplicaNoSend"
	OpReAddReplicaWithDrop OpType = "ReAddReplicaWithDrop"
	OpReAddReplicaSimplify OpType = "ReAddReplicaSimplify"
	OpDelReplica         OpType = "DelReplica"
	OpChangeLeader       OpType = "ChangeLeader"
	OpOfflineReplica     OpType = "OfflineReplica"
	OpRecoverTable       OpType = "RecoverTable"
	OpMigrate            OpType = "Migrate"
	OpReLoadTable        OpType = "ReLoadTable"
	OpUpdatePartitionStatus OpType = "UpdatePartitionStatus"
	OpAddIndex           OpType = "AddIndex"
	OpCreateTableRemote  OpType = "CreateTableRemote"
	OpDropTableRemote    OpType = "DropTableRemote"
	OpAddReplicaRemote   OpType = "AddReplicaRemote"
	OpAddReplicaSimplyRemote OpType = "AddReplicaSimplyRemote"
	OpAddReplicaNSRemote OpType = "AddReplicaNSRemote"
	OpDelReplicaRemote   OpType = "DelReplicaRemote"
)

// OpStatus is the lifecycle state of an OP or a task within it.
type OpStatus string

const (
	StatusInited   OpStatus = "kInited"
	StatusDoing    OpStatus = "kDoing"
	StatusDone     OpStatus = "kDone"
	StatusFailed   OpStatus = "kFailed"
	StatusCanceled OpStatus = "kCanceled"
)

// InvalidPid marks an OP that is not partition-scoped (e.g. a
// remote-cluster, table-wide OP hashed by name instead of pid).
const InvalidPid = -1

// OfflineLeaderEndpoint is the sentinel meaning "bind to whichever
// endpoint is the current leader in the catalog at task-dispatch time".
// It must never be persisted as a real endpoint (spec §9).
const OfflineLeaderEndpoint = "OFFLINE_LEADER_ENDPOINT"

// SubTask is one fan-out leaf of a Task (e.g. one endpoint of an
// AddIndexToTablet broadcast).
type SubTask struct {
	Endpoint string   `json:"endpoint"`
	Status   OpStatus `json:"status"`
}

// Task is one step of an OP's task_list.
type Task struct {
	TaskType  string    `json:"task_type"`
	Status    OpStatus  `json:"status"`
	Endpoint  string    `json:"endpoint"`
	IsRPCSend bool      `json:"is_rpc_send"`
	SubTask   []SubTask `json:"sub_task,omitempty"`
}

// AllSubTasksDone reports whether every sub-task of a fan-out task is Done.
func (t *Task) AllSubTasksDone() bool {
	if len(t.SubTask) == 0 {
		return true
	}
	for _, s := range t.SubTask {
		if s.Status != StatusDone {
			return false
		}
	}
	return true
}

// AnySubTaskFailed reports whether any sub-task of a fan-out task failed.
func (t *Task) AnySubTaskFailed() bool {
	for _, s := range t.SubTask {
		if s.Status == StatusFailed {
			return true
		}
	}
	return false
}

// OPData is the persistent record of one multi-step reconfiguration
// operation (spec §3 "OPData").
type OPData struct {
	OpID              uint64          `json:"op_id"`
	OpType            OpType          `json:"op_type"`
	TaskStatus        OpStatus        `json:"task_status"`
	Name              string          `json:"name"`
	Db                string          `json:"db"`
	Pid               int             `json:"pid"`
	VecIdx            int             `json:"vec_idx"`
	ParentID          uint64          `json:"parent_id,omitempty"`
	RemoteOpID        uint64          `json:"remote_op_id,omitempty"`
	ForReplicaCluster string          `json:"for_replica_cluster,omitempty"`
	StartTime         time.Time       `json:"start_time"`
	EndTime           time.Time       `json:"end_time,omitempty"`
	Data              []byte          `json:"data"`
	TaskIndex         int             `json:"task_index"`
	TaskList          []Task          `json:"task_list"`
}

// Done reports whether every task in the list has been consumed.
func (o *OPData) Done() bool { return o.TaskIndex >= len(o.TaskList) }

// CurrentTask returns the task at TaskIndex, or nil if exhausted.
func (o *OPData) CurrentTask() *Task {
	if o.Done() {
		return nil
	}
	return &o.TaskList[o.TaskIndex]
}

// ClusterMode is a peer cluster's replication role.
type ClusterMode string

const (
	ClusterModeNormal   ClusterMode = "Normal"
	ClusterModeLeader   ClusterMode = "Leader"
	ClusterModeFollower ClusterMode = "Follower"
)

// ClusterState mirrors TabletState but for peer cluster connectivity.
type ClusterState string

const (
	ClusterHealthy ClusterState = "healthy"
	ClusterOffline ClusterState = "offline"
)

// ClusterInfo is the local record of one linked peer cluster.
type ClusterInfo struct {
	Alias         string       `json:"alias"`
	ZkEndpoints   string       `json:"zk_endpoints"`
	ZkPath        string       `json:"zk_path"`
	SessionTerm   uint64       `json:"session_term"`
	State         ClusterState `json:"state"`
	Ctime         time.Time    `json:"ctime"`
	RemoteRealEpMap map[string]string `json:"remote_real_ep_map,omitempty"`
}

// ZoneInfo is stamped on cross-cluster mutating RPCs for authorization.
type ZoneInfo struct {
	ZoneName     string      `json:"zone_name"`
	ZoneTerm     uint64      `json:"zone_term"`
	ReplicaAlias string      `json:"replica_alias"`
	Mode         ClusterMode `json:"mode"`
}

// TaskInfo is the cross-cluster-visible handle a leader cluster hands
// to a follower so the follower can poll task status back (spec §4.7).
type TaskInfo struct {
	OpID     uint64   `json:"op_id"`
	OpType   OpType   `json:"op_type"`
	TaskType string   `json:"task_type"`
	Status   OpStatus `json:"status"`
}

// Procedure is a stored SQL procedure and the tables it references.
type Procedure struct {
	Db               string   `json:"db"`
	Name             string   `json:"name"`
	SQL              string   `json:"sql"`
	ReferencedTables []string `json:"referenced_tables"`
}
