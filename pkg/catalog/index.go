package catalog

import (
	"context"
	"fmt"

	"github.com/cuemby/tablestore/pkg/types"
)

// AddIndex appends a new secondary index to a table's column_keys. The
// caller drives the AddIndex OP (index backfill across live replicas)
// after this returns the updated table, mirroring AddField's
// catalog-then-RPC ordering. Nothing rolls the new column_key back if
// that OP fails; it stays in the catalog until DeleteIndex removes it.
func (c *Catalog) AddIndex(ctx context.Context, db, name string, ck types.ColumnKey) (*types.Table, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tbl, err := c.get(db, name)
	if err != nil {
		return nil, err
	}

	columns := make(map[string]types.ColumnType, len(tbl.Columns)+len(tbl.AddedColumns))
	for _, col := range tbl.Columns {
		columns[col.Name] = col.Type
	}
	for _, col := range tbl.AddedColumns {
		columns[col.Name] = col.Type
	}

	for _, existing := range tbl.ColumnKeys {
		if existing.IndexName == ck.IndexName {
			return nil, fmt.Errorf("%w: %q", ErrIdxNameExists, ck.IndexName)
		}
	}
	if len(ck.ColName) == 0 {
		return nil, ErrInvalidParameter(fmt.Sprintf("index %q has no columns", ck.IndexName))
	}
	for _, colName := range ck.ColName {
		ct, ok := columns[colName]
		if !ok {
			return nil, ErrInvalidParameter(fmt.Sprintf("index column %q does not exist", colName))
		}
		if ct == types.ColTypeFloat || ct == types.ColTypeDouble {
			return nil, fmt.Errorf("%w: column %q may not be float/double", ErrWrongColumnKey, colName)
		}
	}

	tbl.ColumnKeys = append(tbl.ColumnKeys, ck)
	if err := c.persist(ctx, tbl); err != nil {
		return nil, err
	}
	c.notify(ctx)
	return tbl, nil
}

// DeleteIndex soft-deletes a named index (flag=1) rather than removing
// it outright, so in-flight reads against it can drain; spec §4.3's
// index lifecycle never reuses a soft-deleted index_name.
func (c *Catalog) DeleteIndex(ctx context.Context, db, name, indexName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tbl, err := c.get(db, name)
	if err != nil {
		return err
	}

	found := false
	for i := range tbl.ColumnKeys {
		if tbl.ColumnKeys[i].IndexName == indexName && tbl.ColumnKeys[i].Active() {
			tbl.ColumnKeys[i].Flag = 1
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: %q", ErrIdxNameNotFound, indexName)
	}

	if err := c.persist(ctx, tbl); err != nil {
		return err
	}
	c.notify(ctx)
	return nil
}
