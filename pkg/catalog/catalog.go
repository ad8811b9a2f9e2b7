// Package catalog is the C3 Table Catalog: the coordinator's in-memory
// view of every database and table, persisted to MetaStore on every
// mutation and CAS-guarded against the teacher's own storage mutation
// pattern (read-modify-serialize-write under the owning lock, see
// pkg/manager/fsm.go in the teacher repository).
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/tablestore/pkg/metastore"
	"github.com/cuemby/tablestore/pkg/paths"
	"github.com/cuemby/tablestore/pkg/types"
)

// HealthyEndpoints is satisfied by pkg/tablet.Registry; kept as a
// narrow interface so catalog does not import tablet directly.
type HealthyEndpoints interface {
	HealthyEndpoints() []string
}

// Catalog owns default_db_tables and db_tables.
type Catalog struct {
	mu sync.RWMutex

	defaultTables map[string]*types.Table            // name -> table, default db
	dbTables      map[string]map[string]*types.Table // db -> name -> table
	databases     map[string]*types.Database
	procedures    map[procedureKey]*types.Procedure

	store   metastore.Client
	tablets HealthyEndpoints
}

func New(store metastore.Client, tablets HealthyEndpoints) *Catalog {
	return &Catalog{
		defaultTables: make(map[string]*types.Table),
		dbTables:      make(map[string]map[string]*types.Table),
		databases:     make(map[string]*types.Database),
		procedures:    make(map[procedureKey]*types.Procedure),
		store:         store,
		tablets:       tablets,
	}
}

// Recover reloads every database and table from MetaStore; called once
// by the Coordinator on acquiring leadership.
func (c *Catalog) Recover(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	dbNames, err := c.store.Children(ctx, paths.Db)
	if err != nil {
		return fmt.Errorf("list databases: %w", err)
	}
	for _, name := range dbNames {
		c.databases[name] = &types.Database{Name: name}
		c.dbTables[name] = make(map[string]*types.Table)
	}

	names, err := c.store.Children(ctx, paths.TableData)
	if err != nil {
		return fmt.Errorf("list default tables: %w", err)
	}
	for _, name := range names {
		raw, err := c.store.Get(ctx, paths.TableByName(name))
		if err != nil {
			continue
		}
		var tbl types.Table
		if err := json.Unmarshal(raw, &tbl); err != nil {
			return fmt.Errorf("decode table %s: %w", name, err)
		}
		c.defaultTables[name] = &tbl
	}

	keys, err := c.store.Children(ctx, paths.DbTableData)
	if err != nil {
		return fmt.Errorf("list db tables: %w", err)
	}
	for _, key := range keys {
		raw, err := c.store.Get(ctx, paths.DbTableData+"/"+key)
		var tbl types.Table
		if err != nil || json.Unmarshal(raw, &tbl) != nil {
			continue
		}
		if c.dbTables[tbl.Db] == nil {
			c.dbTables[tbl.Db] = make(map[string]*types.Table)
		}
		c.dbTables[tbl.Db][tbl.Name] = &tbl
	}
	return c.recoverProcedures(ctx)
}

func (c *Catalog) notify(ctx context.Context) {
	if _, err := c.store.Increment(ctx, paths.TableNotify); err != nil {
		_ = err // best-effort fan-out; watchers simply re-fetch on the next tick if this is lost
	}
}

// CreateDatabase registers db if it does not already exist.
func (c *Catalog) CreateDatabase(ctx context.Context, db string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.databases[db]; ok {
		return ErrDatabaseAlreadyExists
	}
	if err := c.store.Create(ctx, paths.Database(db), []byte(db)); err != nil {
		return err
	}
	c.databases[db] = &types.Database{Name: db, CreatedAt: time.Now()}
	c.dbTables[db] = make(map[string]*types.Table)
	return nil
}

// DropDatabase removes db if (and only if) it has no tables left.
func (c *Catalog) DropDatabase(ctx context.Context, db string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.databases[db]; !ok {
		return ErrDatabaseNotExist
	}
	if len(c.dbTables[db]) > 0 {
		return ErrDatabaseNotEmpty
	}
	if err := c.store.Delete(ctx, paths.Database(db)); err != nil {
		return err
	}
	delete(c.databases, db)
	delete(c.dbTables, db)
	return nil
}

// ListDatabases returns every known database, the default database
// excluded since it has no explicit entry in c.databases.
func (c *Catalog) ListDatabases() []*types.Database {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*types.Database, 0, len(c.databases))
	for _, db := range c.databases {
		cp := *db
		out = append(out, &cp)
	}
	return out
}

// CreateTableSpec is the validated input to CreateTable.
type CreateTableSpec struct {
	Db           string
	Name         string
	Columns      []types.ColumnDesc
	ColumnKeys   []types.ColumnKey
	TTL          types.TTLDesc
	PartitionNum int
	ReplicaNum   int
	Compression  types.CompressionType
}

func (c *Catalog) tableMap(db string) (map[string]*types.Table, bool) {
	if db == "" {
		return c.defaultTables, true
	}
	m, ok := c.dbTables[db]
	return m, ok
}

// validate enforces the static schema rules from spec §4.3; placement
// feasibility against live tablet count is checked separately in
// CreateTable once the healthy-endpoint set is known.
func (s *CreateTableSpec) validate(columns map[string]types.ColumnType) error {
	if len(s.ColumnKeys) == 0 {
		return ErrInvalidParameter("table must have at least one index")
	}
	seenIndex := make(map[string]bool)
	for _, ck := range s.ColumnKeys {
		if seenIndex[ck.IndexName] {
			return ErrInvalidParameter(fmt.Sprintf("duplicate index name %q", ck.IndexName))
		}
		seenIndex[ck.IndexName] = true
		if len(ck.ColName) == 0 {
			return ErrInvalidParameter(fmt.Sprintf("index %q has no columns", ck.IndexName))
		}
		for _, colName := range ck.ColName {
			ct, ok := columns[colName]
			if !ok {
				return ErrInvalidParameter(fmt.Sprintf("index column %q does not exist", colName))
			}
			if ct == types.ColTypeFloat || ct == types.ColTypeDouble {
				return fmt.Errorf("%w: column %q may not be float/double", ErrWrongColumnKey, colName)
			}
		}
	}
	if s.PartitionNum <= 0 || s.ReplicaNum <= 0 {
		return ErrInvalidParameter("partition and replica counts must be positive")
	}
	return nil
}

// CreateTable allocates a tid, places partitions across the healthy
// tablet set, persists the table, and returns it for the caller to
// drive per-tablet CreateTable RPCs (C4/C5 — table placement here only
// decides *where*, not the RPC fan-out itself).
func (c *Catalog) CreateTable(ctx context.Context, spec CreateTableSpec) (*types.Table, error) {
	columns := make(map[string]types.ColumnType, len(spec.Columns))
	for _, col := range spec.Columns {
		columns[col.Name] = col.Type
	}
	if err := spec.validate(columns); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tables, ok := c.tableMap(spec.Db)
	if !ok {
		return nil, ErrDatabaseNotExist
	}
	if _, exists := tables[spec.Name]; exists {
		return nil, ErrTableAlreadyExists
	}

	healthy := c.tablets.HealthyEndpoints()
	if len(healthy) < spec.ReplicaNum {
		return nil, ErrInvalidParameter(fmt.Sprintf("need %d healthy tablets for replica count, have %d", spec.ReplicaNum, len(healthy)))
	}

	tid, err := c.store.Increment(ctx, paths.TableIndex)
	if err != nil {
		return nil, fmt.Errorf("allocate tid: %w", err)
	}

	partitions := placePartitions(healthy, spec.PartitionNum, spec.ReplicaNum, c.loadByEndpoint())

	tbl := &types.Table{
		Tid:            tid,
		Db:             spec.Db,
		Name:           spec.Name,
		Columns:        spec.Columns,
		ColumnKeys:     spec.ColumnKeys,
		TTL:            spec.TTL,
		PartitionNum:   spec.PartitionNum,
		ReplicaNum:     spec.ReplicaNum,
		Compression:    spec.Compression,
		TablePartition: partitions,
		CreatedAt:      time.Now(),
	}

	if err := c.persist(ctx, tbl); err != nil {
		return nil, err
	}
	tables[spec.Name] = tbl
	c.notify(ctx)
	return tbl, nil
}

// DropTable removes a table's catalog entry. The caller is responsible
// for draining procedure references and issuing best-effort DropTable
// RPCs to live replicas before calling this.
func (c *Catalog) DropTable(ctx context.Context, db, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	tables, ok := c.tableMap(db)
	if !ok {
		return ErrDatabaseNotExist
	}
	tbl, ok := tables[name]
	if !ok {
		return ErrTableNotExist
	}
	if refs := c.referencingProcedures(db, name); len(refs) > 0 {
		return fmt.Errorf("%w: table %q is referenced by procedures %v", ErrProcedureReferencesTable, name, refs)
	}
	if err := c.deletePersisted(ctx, tbl); err != nil {
		return err
	}
	delete(tables, name)
	c.notify(ctx)
	return nil
}

// AddField enforces the added-column and schema-version caps before
// recording a new column; the caller pushes the new schema to live
// replicas first and only calls this on success (spec §4.3).
func (c *Catalog) AddField(ctx context.Context, db, name string, col types.ColumnDesc) (*types.Table, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tables, ok := c.tableMap(db)
	if !ok {
		return nil, ErrDatabaseNotExist
	}
	tbl, ok := tables[name]
	if !ok {
		return nil, ErrTableNotExist
	}
	if len(tbl.AddedColumns) >= types.MaxAddedColumns {
		return nil, ErrTooManyAddedColumns
	}
	nextVersion := len(tbl.VersionPairs)
	if nextVersion >= types.MaxSchemaVersion {
		return nil, ErrSchemaVersionExhausted
	}
	tbl.AddedColumns = append(tbl.AddedColumns, col)
	tbl.VersionPairs = append(tbl.VersionPairs, types.VersionPair{
		ID:         uint32(nextVersion),
		FieldCount: len(tbl.Columns) + len(tbl.AddedColumns),
	})
	if err := c.persist(ctx, tbl); err != nil {
		return nil, err
	}
	c.notify(ctx)
	return tbl, nil
}

// UpdateTTL rewrites a table's TTL policy.
func (c *Catalog) UpdateTTL(ctx context.Context, db, name string, ttl types.TTLDesc) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	tbl, err := c.get(db, name)
	if err != nil {
		return err
	}
	tbl.TTL = ttl
	if err := c.persist(ctx, tbl); err != nil {
		return err
	}
	c.notify(ctx)
	return nil
}

// SetTablePartition is an admin override of a table's full partition
// layout, used by RecoverTable/Migrate style operations.
func (c *Catalog) SetTablePartition(ctx context.Context, db, name string, tp []types.TablePartition) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	tbl, err := c.get(db, name)
	if err != nil {
		return err
	}
	tbl.TablePartition = tp
	if err := c.persist(ctx, tbl); err != nil {
		return err
	}
	c.notify(ctx)
	return nil
}

// GetTablePartition returns a copy of a table's current partition layout.
func (c *Catalog) GetTablePartition(db, name string) ([]types.TablePartition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tbl, err := c.get(db, name)
	if err != nil {
		return nil, err
	}
	out := make([]types.TablePartition, len(tbl.TablePartition))
	copy(out, tbl.TablePartition)
	return out, nil
}

// GetTable returns a copy of the named table.
func (c *Catalog) GetTable(db, name string) (*types.Table, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tbl, err := c.get(db, name)
	if err != nil {
		return nil, err
	}
	cp := *tbl
	return &cp, nil
}

// ListTables returns every table in db ("" for the default db).
func (c *Catalog) ListTables(db string) []*types.Table {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tables, ok := c.tableMap(db)
	if !ok {
		return nil
	}
	out := make([]*types.Table, 0, len(tables))
	for _, t := range tables {
		cp := *t
		out = append(out, &cp)
	}
	return out
}

// get must be called with c.mu held (read or write).
func (c *Catalog) get(db, name string) (*types.Table, error) {
	tables, ok := c.tableMap(db)
	if !ok {
		return nil, ErrDatabaseNotExist
	}
	tbl, ok := tables[name]
	if !ok {
		return nil, ErrTableNotExist
	}
	return tbl, nil
}

func (c *Catalog) persist(ctx context.Context, tbl *types.Table) error {
	raw, err := json.Marshal(tbl)
	if err != nil {
		return fmt.Errorf("encode table: %w", err)
	}
	path := paths.TableByName(tbl.Name)
	if tbl.Db != "" {
		path = paths.DbTableByTid(tbl.Db, tbl.Tid)
	}
	return c.store.Set(ctx, path, raw)
}

func (c *Catalog) deletePersisted(ctx context.Context, tbl *types.Table) error {
	path := paths.TableByName(tbl.Name)
	if tbl.Db != "" {
		path = paths.DbTableByTid(tbl.Db, tbl.Tid)
	}
	return c.store.Delete(ctx, path)
}

// loadByEndpoint must be called with c.mu held; it tallies current
// partition and leader counts per endpoint across every table, feeding
// the placement balancer.
func (c *Catalog) loadByEndpoint() map[string]endpointLoad {
	loads := make(map[string]endpointLoad)
	walk := func(tables map[string]*types.Table) {
		for _, tbl := range tables {
			for _, tp := range tbl.TablePartition {
				for _, pm := range tp.PartitionMeta {
					l := loads[pm.Endpoint]
					l.partitions++
					if pm.IsLeader {
						l.leaders++
					}
					loads[pm.Endpoint] = l
				}
			}
		}
	}
	walk(c.defaultTables)
	for _, tables := range c.dbTables {
		walk(tables)
	}
	return loads
}

type endpointLoad struct {
	partitions int
	leaders    int
}

// placePartitions implements the balance policy from spec §4.3: round
// robin over endpoints sorted by ascending current partition load,
// assigning the least-leader-loaded replica of each partition's
// replica set as leader.
func placePartitions(healthy []string, partitionNum, replicaNum int, loads map[string]endpointLoad) []types.TablePartition {
	endpoints := append([]string(nil), healthy...)
	sort.Slice(endpoints, func(i, j int) bool {
		return loads[endpoints[i]].partitions < loads[endpoints[j]].partitions
	})

	out := make([]types.TablePartition, partitionNum)
	cursor := 0
	for pid := 0; pid < partitionNum; pid++ {
		replicas := make([]string, replicaNum)
		for r := 0; r < replicaNum; r++ {
			replicas[r] = endpoints[cursor%len(endpoints)]
			cursor++
		}

		leaderIdx := 0
		leastLeaders := loads[replicas[0]].leaders
		for i, ep := range replicas {
			if loads[ep].leaders < leastLeaders {
				leastLeaders = loads[ep].leaders
				leaderIdx = i
			}
		}

		pm := make([]types.PartitionMeta, replicaNum)
		for i, ep := range replicas {
			pm[i] = types.PartitionMeta{Endpoint: ep, IsLeader: i == leaderIdx, IsAlive: true}
			l := loads[ep]
			l.partitions++
			if i == leaderIdx {
				l.leaders++
			}
			loads[ep] = l
		}

		out[pid] = types.TablePartition{Pid: pid, PartitionMeta: pm}
	}
	return out
}
