package op

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/tablestore/pkg/events"
	"github.com/cuemby/tablestore/pkg/log"
	"github.com/cuemby/tablestore/pkg/metastore"
	"github.com/cuemby/tablestore/pkg/paths"
	"github.com/cuemby/tablestore/pkg/task"
	"github.com/cuemby/tablestore/pkg/types"
	"github.com/rs/zerolog"
)

// InvalidPid matches types.InvalidPid; used for remote-cluster OPs
// that are not partition-scoped.
const InvalidPid = types.InvalidPid

// Config tunes the Engine's queue count and eviction thresholds.
type Config struct {
	MaxConcurrency          int // local queue count
	ReplicaClusterConcurrency int // additional remote-cluster queues
	MaxOpNum                int // done-list cap before eviction
	ExecuteTimeout          time.Duration
}

func (c *Config) setDefaults() {
	if c.MaxConcurrency == 0 {
		c.MaxConcurrency = 8
	}
	if c.ReplicaClusterConcurrency == 0 {
		c.ReplicaClusterConcurrency = 2
	}
	if c.MaxOpNum == 0 {
		c.MaxOpNum = 1000
	}
	if c.ExecuteTimeout == 0 {
		c.ExecuteTimeout = 5 * time.Minute
	}
}

// CompositeHandler runs a coordinator-local composite primitive
// (SelectLeader, ChangeLeader, UpdateLeaderInfo, TableSyncTask, ...)
// against the current OP/task, returning the resulting status.
type CompositeHandler func(ctx context.Context, op *types.OPData, t *types.Task) types.OpStatus

// Engine is the C5 OP Engine.
type Engine struct {
	cfg    Config
	store  metastore.Client
	dialer task.Dialer
	broker *events.Broker
	logger zerolog.Logger

	queues []*queue

	mu       sync.Mutex
	byID     map[uint64]*types.OPData
	doneList []uint64

	composites map[string]CompositeHandler

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func New(cfg Config, store metastore.Client, dialer task.Dialer, broker *events.Broker) *Engine {
	cfg.setDefaults()
	total := cfg.MaxConcurrency + cfg.ReplicaClusterConcurrency
	e := &Engine{
		cfg:        cfg,
		store:      store,
		dialer:     dialer,
		broker:     broker,
		logger:     log.WithComponent("op-engine"),
		queues:     make([]*queue, total),
		byID:       make(map[uint64]*types.OPData),
		composites: make(map[string]CompositeHandler),
		stopCh:     make(chan struct{}),
	}
	for i := range e.queues {
		e.queues[i] = newQueue()
	}
	return e
}

// RegisterComposite wires a coordinator-local composite primitive
// (e.g. pkg/manager supplies SelectLeader/ChangeLeader/UpdateLeaderInfo
// bound to its own catalog and tablet registry instances).
func (e *Engine) RegisterComposite(name string, h CompositeHandler) {
	e.composites[name] = h
}

// Start launches one worker goroutine per queue.
func (e *Engine) Start() {
	for i, q := range e.queues {
		e.wg.Add(1)
		go e.runQueue(i, q)
	}
}

// Stop halts every worker goroutine.
func (e *Engine) Stop() {
	close(e.stopCh)
	e.wg.Wait()
}

// VecIdx computes the queue index for a local (partition-scoped) OP.
func (e *Engine) VecIdx(pid int) int {
	return pid % e.cfg.MaxConcurrency
}

// RemoteVecIdx computes the queue index for a remote-cluster OP: by
// hash(name) when pid is InvalidPid, else uniformly at random over the
// remote-cluster queue range.
func (e *Engine) RemoteVecIdx(pid int, name string) int {
	base := e.cfg.MaxConcurrency
	span := e.cfg.ReplicaClusterConcurrency
	if span <= 0 {
		span = 1
	}
	if pid == InvalidPid {
		h := fnv.New32a()
		_, _ = h.Write([]byte(name))
		return base + int(h.Sum32())%span
	}
	return base + rand.Intn(span)
}

// CreateOPData allocates op_id from the MetaStore counter, composes
// the task chain via the registered factory, and persists the OP as
// Inited. It does not yet enqueue it — call AddOPData for that.
func (e *Engine) CreateOPData(ctx context.Context, opType types.OpType, payload Payload, name, db string, pid int, parentID, remoteOpID uint64) (*types.OPData, error) {
	opID, err := e.store.Increment(ctx, paths.OpIndex)
	if err != nil {
		return nil, fmt.Errorf("allocate op_id: %w", err)
	}

	taskList, err := BuildTaskChain(opType, payload)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode op payload: %w", err)
	}

	op := &types.OPData{
		OpID:       opID,
		OpType:     opType,
		TaskStatus: types.StatusInited,
		Name:       name,
		Db:         db,
		Pid:        pid,
		ParentID:   parentID,
		RemoteOpID: remoteOpID,
		StartTime:  time.Now(),
		Data:       raw,
		TaskList:   taskList,
	}
	if pid != InvalidPid {
		op.VecIdx = e.VecIdx(pid)
	} else {
		op.VecIdx = e.RemoteVecIdx(pid, name)
	}

	if err := e.persist(ctx, op); err != nil {
		return nil, err
	}
	return op, nil
}

// AddOPData inserts op into its chosen queue immediately after its
// parent (if any) and wakes the worker.
func (e *Engine) AddOPData(op *types.OPData) {
	e.mu.Lock()
	e.byID[op.OpID] = op
	e.mu.Unlock()

	e.queues[op.VecIdx].pushAfterParent(op, op.ParentID)
	if e.broker != nil {
		e.broker.Publish(&events.Event{Type: events.EventOpCreated, Metadata: map[string]string{"op_id": fmt.Sprint(op.OpID)}})
	}
}

func (e *Engine) persist(ctx context.Context, op *types.OPData) error {
	raw, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("encode op: %w", err)
	}
	return e.store.Set(ctx, paths.Op(op.OpID), raw)
}

func (e *Engine) deletePersisted(ctx context.Context, opID uint64) {
	if err := e.store.Delete(ctx, paths.Op(opID)); err != nil {
		e.logger.Warn().Err(err).Uint64("op_id", opID).Msg("failed to delete op node")
	}
}

// runQueue is one task_vec[i]'s worker loop.
func (e *Engine) runQueue(i int, q *queue) {
	defer e.wg.Done()
	ctx := context.Background()
	for {
		select {
		case <-e.stopCh:
			return
		case <-q.notify:
			e.drain(ctx, q)
		case <-time.After(time.Second):
			e.drain(ctx, q)
		}
	}
}

func (e *Engine) drain(ctx context.Context, q *queue) {
	for {
		op, ok := q.front()
		if !ok {
			return
		}
		if !e.step(ctx, op) {
			return
		}
		q.popFront()
	}
}

// step advances op by exactly one task. It returns true if op is
// finished (Done/Failed/Canceled) and should be popped from its queue.
func (e *Engine) step(ctx context.Context, op *types.OPData) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if op.TaskStatus == types.StatusInited {
		op.TaskStatus = types.StatusDoing
		op.StartTime = time.Now()
	}

	if time.Since(op.StartTime) > e.cfg.ExecuteTimeout {
		e.logger.Warn().Uint64("op_id", op.OpID).Msg("op exceeded execute timeout, yielding")
	}

	if op.Done() {
		e.finish(ctx, op, types.StatusDone)
		return true
	}

	t := op.CurrentTask()
	switch t.Status {
	case types.StatusCanceled:
		e.finish(ctx, op, types.StatusCanceled)
		return true

	case types.StatusFailed:
		e.finish(ctx, op, types.StatusFailed)
		return true

	case types.StatusDone:
		op.TaskIndex++
		if op.Done() {
			e.finish(ctx, op, types.StatusDone)
			return true
		}
		_ = e.persist(ctx, op)
		return false

	case types.StatusInited:
		e.execute(ctx, op, t)
		_ = e.persist(ctx, op)
		return false

	default: // Doing: resolved asynchronously by the Task Status Poller
		return false
	}
}

// execute dispatches t: composite primitives run in-process via a
// registered CompositeHandler; everything else is a tablet RPC via
// pkg/task.
func (e *Engine) execute(ctx context.Context, op *types.OPData, t *types.Task) {
	if h, ok := e.composites[t.TaskType]; ok {
		t.Status = h(ctx, op, t)
		return
	}

	prim := task.Primitive(t.TaskType)
	args := argsFromOp(op, t)
	task.Run(ctx, e.dialer, t, prim, args)
}

// argsFromOp decodes op.Data (the same Payload a taskChainFactory built
// the task chain from) into task.Args, so primitives beyond plain
// (tid, pid, endpoint) — SendSnapshot's dst, ChangeRole's term and
// followers, UpdateTTL's ttl_seconds, the index primitives' index_name
// and columns — actually receive the values their factory recorded.
func argsFromOp(op *types.OPData, t *types.Task) task.Args {
	args := task.Args{Pid: op.Pid, Endpoint: t.Endpoint}

	var p Payload
	if len(op.Data) == 0 {
		return args
	}
	if err := json.Unmarshal(op.Data, &p); err != nil {
		return args
	}

	args.Tid = uintField(p, "tid")
	args.RemoteTid = uintField(p, "remote_tid")
	args.Term = uintField(p, "term")
	args.TTLSeconds = uintField(p, "ttl_seconds")
	args.Dst, _ = p["dst"].(string)
	args.IndexName, _ = p["index_name"].(string)
	args.ToLeader, _ = p["to_leader"].(bool)
	args.Followers = stringsField(p, "followers")
	args.Columns = stringsField(p, "columns")
	return args
}

// uintField reads a numeric payload field decoded by encoding/json,
// which always produces float64 for untyped JSON numbers.
func uintField(p Payload, key string) uint64 {
	switch v := p[key].(type) {
	case float64:
		return uint64(v)
	case uint64:
		return v
	default:
		return 0
	}
}

func stringsField(p Payload, key string) []string {
	raw, ok := p[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func (e *Engine) finish(ctx context.Context, op *types.OPData, status types.OpStatus) {
	op.TaskStatus = status
	op.EndTime = time.Now()
	delete(e.byID, op.OpID)
	e.deletePersisted(ctx, op.OpID)

	evt := events.EventOpDone
	if status != types.StatusDone {
		evt = events.EventOpFailed
	}
	if e.broker != nil {
		e.broker.Publish(&events.Event{Type: evt, Metadata: map[string]string{"op_id": fmt.Sprint(op.OpID)}})
	}

	e.doneList = append(e.doneList, op.OpID)
	if len(e.doneList) > e.cfg.MaxOpNum {
		e.doneList = e.doneList[len(e.doneList)-e.cfg.MaxOpNum:]
	}
}

// CancelOP marks op and every remaining task Canceled; the worker
// observes Canceled at its next iteration and drops the OP. Best-effort
// tablet-side cancellation is left to the caller (pkg/manager), which
// has the tablet registry needed to fan out CancelTask RPCs.
func (e *Engine) CancelOP(opID uint64) (*types.OPData, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	op, ok := e.byID[opID]
	if !ok {
		return nil, false
	}
	op.TaskStatus = types.StatusCanceled
	for i := range op.TaskList {
		if op.TaskList[i].Status != types.StatusDone {
			op.TaskList[i].Status = types.StatusCanceled
		}
	}
	return op, true
}

// Get returns the in-flight OP with the given id, if any.
func (e *Engine) Get(opID uint64) (*types.OPData, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	op, ok := e.byID[opID]
	return op, ok
}

// List returns every in-flight OP across all queues.
func (e *Engine) List() []*types.OPData {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*types.OPData, 0, len(e.byID))
	for _, op := range e.byID {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpID < out[j].OpID })
	return out
}

// InFlightTask names one Doing task the TaskStatusPoller needs to
// resolve against its tablet.
type InFlightTask struct {
	OpID     uint64
	Endpoint string
}

// InFlight returns every currently Doing task, for the TaskStatusPoller
// (C9) to batch into per-endpoint GetTaskStatus calls. A task only
// reaches Doing after task.Run's RPC send succeeds (spec §4.4); this
// is the sole channel by which such a task can ever advance, since
// Engine.step leaves Doing tasks untouched on its own.
func (e *Engine) InFlight() []InFlightTask {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []InFlightTask
	for _, op := range e.byID {
		if t := op.CurrentTask(); t != nil && t.Status == types.StatusDoing {
			out = append(out, InFlightTask{OpID: op.OpID, Endpoint: t.Endpoint})
		}
	}
	return out
}

// ApplyTaskStatus resolves opID's current task from Doing to status
// (Done or Failed), persists, and wakes its queue so drain picks the
// change up immediately instead of waiting for the 1s fallback tick.
// It is a no-op if the task already moved on (stale poll response).
func (e *Engine) ApplyTaskStatus(ctx context.Context, opID uint64, status types.OpStatus) {
	e.mu.Lock()
	op, ok := e.byID[opID]
	if !ok {
		e.mu.Unlock()
		return
	}
	t := op.CurrentTask()
	if t == nil || t.Status != types.StatusDoing {
		e.mu.Unlock()
		return
	}
	t.Status = status
	_ = e.persist(ctx, op)
	vecIdx := op.VecIdx
	e.mu.Unlock()

	e.queues[vecIdx].wake()
}

// Recover reloads every persisted OP node, rebuilds its task chain via
// SkipDoneTask, resets locally-resumable task types back to Inited,
// and re-enqueues in (parent_id, op_id) order.
func (e *Engine) Recover(ctx context.Context) error {
	ids, err := e.store.Children(ctx, paths.OpData)
	if err != nil {
		return fmt.Errorf("list op nodes: %w", err)
	}

	var ops []*types.OPData
	for _, id := range ids {
		raw, err := e.store.Get(ctx, paths.OpData+"/"+id)
		if err != nil {
			continue
		}
		var op types.OPData
		if err := json.Unmarshal(raw, &op); err != nil {
			e.logger.Warn().Err(err).Str("op_id", id).Msg("failed to decode op node during recovery")
			continue
		}
		ops = append(ops, &op)
	}

	sort.Slice(ops, func(i, j int) bool {
		if ops[i].ParentID != ops[j].ParentID {
			return ops[i].ParentID < ops[j].ParentID
		}
		return ops[i].OpID < ops[j].OpID
	})

	for _, op := range ops {
		if op.TaskStatus == types.StatusFailed || op.TaskStatus == types.StatusCanceled {
			e.mu.Lock()
			e.doneList = append(e.doneList, op.OpID)
			e.mu.Unlock()
			continue
		}
		skipDoneTask(op)
		e.mu.Lock()
		e.byID[op.OpID] = op
		e.mu.Unlock()
		e.queues[op.VecIdx].push(op)
	}
	return nil
}

// skipDoneTask discards the first task_index tasks and, for a
// locally-resumable task type, forces the new head back to Inited.
func skipDoneTask(op *types.OPData) {
	if op.Done() {
		return
	}
	t := op.CurrentTask()
	if t.Status == types.StatusDoing && resumableLocally[t.TaskType] {
		t.Status = types.StatusInited
		t.IsRPCSend = false
	}
}
