package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cuemby/tablestore/pkg/paths"
	"github.com/cuemby/tablestore/pkg/types"
	"github.com/golang/snappy"
)

// procedures is keyed by (db, name); indexed a second way by table so
// DropTable can refuse while a procedure still references it.
type procedureKey struct{ db, name string }

// CreateProcedure registers a stored procedure, snappy-compressed on
// the wire into MetaStore per spec §6 ("Procedure payloads are
// Snappy-compressed; everything else raw").
func (c *Catalog) CreateProcedure(ctx context.Context, p types.Procedure) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, table := range p.ReferencedTables {
		if _, err := c.get(p.Db, table); err != nil {
			return fmt.Errorf("referenced table %q: %w", table, err)
		}
	}

	key := procedureKey{p.Db, p.Name}
	if _, exists := c.procedures[key]; exists {
		return ErrInvalidParameter(fmt.Sprintf("procedure %q already exists in db %q", p.Name, p.Db))
	}

	if err := c.persistProcedure(ctx, &p); err != nil {
		return err
	}
	c.procedures[key] = &p
	return nil
}

// DropProcedure removes a stored procedure.
func (c *Catalog) DropProcedure(ctx context.Context, db, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := procedureKey{db, name}
	if _, ok := c.procedures[key]; !ok {
		return ErrInvalidParameter(fmt.Sprintf("procedure %q does not exist in db %q", name, db))
	}
	if err := c.store.Delete(ctx, paths.Procedure(db, name)); err != nil {
		return err
	}
	delete(c.procedures, key)
	return nil
}

// GetProcedure returns a copy of the named procedure.
func (c *Catalog) GetProcedure(db, name string) (*types.Procedure, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.procedures[procedureKey{db, name}]
	if !ok {
		return nil, ErrInvalidParameter(fmt.Sprintf("procedure %q does not exist in db %q", name, db))
	}
	cp := *p
	return &cp, nil
}

// ListProcedures returns every procedure in db.
func (c *Catalog) ListProcedures(db string) []*types.Procedure {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*types.Procedure, 0)
	for key, p := range c.procedures {
		if key.db == db {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out
}

// referencingProcedures lists, by name, every procedure in db that
// references table; must be called with c.mu held.
func (c *Catalog) referencingProcedures(db, table string) []string {
	var names []string
	for key, p := range c.procedures {
		if key.db != db {
			continue
		}
		for _, t := range p.ReferencedTables {
			if t == table {
				names = append(names, p.Name)
				break
			}
		}
	}
	return names
}

func (c *Catalog) persistProcedure(ctx context.Context, p *types.Procedure) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode procedure: %w", err)
	}
	return c.store.Set(ctx, paths.Procedure(p.Db, p.Name), snappy.Encode(nil, raw))
}

// recoverProcedures reloads every stored procedure from MetaStore; must
// be called with c.mu held. Node names are "<db>.<name>" (db empty for
// the default database), matching paths.Procedure's layout.
func (c *Catalog) recoverProcedures(ctx context.Context) error {
	entries, err := c.store.Children(ctx, paths.StoredProcedure)
	if err != nil {
		return fmt.Errorf("list procedures: %w", err)
	}
	for _, entry := range entries {
		dot := strings.IndexByte(entry, '.')
		if dot < 0 {
			continue
		}
		db, name := entry[:dot], entry[dot+1:]

		raw, err := c.store.Get(ctx, paths.Procedure(db, name))
		if err != nil {
			continue
		}
		decoded, err := snappy.Decode(nil, raw)
		if err != nil {
			return fmt.Errorf("decompress procedure %s.%s: %w", db, name, err)
		}
		var p types.Procedure
		if err := json.Unmarshal(decoded, &p); err != nil {
			return fmt.Errorf("decode procedure %s.%s: %w", db, name, err)
		}
		c.procedures[procedureKey{db, name}] = &p
	}
	return nil
}
