// cmd/nsctl is the admin command-line client for a running nameserver
// coordinator (spec §6's command surface), talking pkg/client against
// --addr. Structured as a cobra command tree the way the teacher's
// cmd/warren is, one subcommand per admin RPC instead of per
// orchestration verb.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/cuemby/tablestore/pkg/adminapi"
	"github.com/cuemby/tablestore/pkg/client"
	"github.com/cuemby/tablestore/pkg/types"
	"github.com/spf13/cobra"
)

var addr string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "nsctl",
	Short: "Admin CLI for the table-store nameserver coordinator",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&addr, "addr", "127.0.0.1:9001", "coordinator admin RPC address")
	rootCmd.AddCommand(
		createDatabaseCmd, dropDatabaseCmd, showDatabaseCmd,
		createTableCmd, dropTableCmd, showTableCmd, showCatalogCmd,
		showTabletCmd,
		addReplicaCmd, delReplicaCmd, migrateCmd, changeLeaderCmd,
		recoverEndpointCmd, recoverTableCmd, offlineEndpointCmd, makeSnapshotCmd,
		cancelOPCmd, showOPStatusCmd, listOPsCmd,
		confSetCmd, confGetCmd,
		showReplicaClusterCmd, removeReplicaClusterCmd,
	)
}

func dial() (*client.Client, error) {
	return client.New(addr)
}

func printJSON(v interface{}) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode response: %v\n", err)
		return
	}
	fmt.Println(string(b))
}

var createDatabaseCmd = &cobra.Command{
	Use:  "create-database NAME",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()
		return c.CreateDatabase(args[0])
	},
}

var dropDatabaseCmd = &cobra.Command{
	Use:  "drop-database NAME",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()
		return c.DropDatabase(args[0])
	},
}

var showDatabaseCmd = &cobra.Command{
	Use:  "show-databases",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()
		dbs, err := c.ShowDatabase()
		if err != nil {
			return err
		}
		printJSON(dbs)
		return nil
	},
}

var createTableFlags adminapi.CreateTableRequest
var createTablePK string

// createTableCmd only covers the common single-column-primary-key
// schema; callers needing multiple indexes or wide column sets go
// through pkg/client.CreateTable directly with a full adminapi.CreateTableRequest.
var createTableCmd = &cobra.Command{
	Use:  "create-table NAME",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		createTableFlags.Name = args[0]
		createTableFlags.Columns = []types.ColumnDesc{{Name: createTablePK, Type: types.ColTypeInt64}}
		createTableFlags.ColumnKeys = []types.ColumnKey{{IndexName: "pk", ColName: []string{createTablePK}}}

		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()
		tbl, err := c.CreateTable(createTableFlags)
		if err != nil {
			return err
		}
		printJSON(tbl)
		return nil
	},
}

func init() {
	createTableCmd.Flags().StringVar(&createTableFlags.Db, "db", "", "database name")
	createTableCmd.Flags().IntVar(&createTableFlags.PartitionNum, "partitions", 1, "partition count")
	createTableCmd.Flags().IntVar(&createTableFlags.ReplicaNum, "replicas", 1, "replica count")
	createTableCmd.Flags().StringVar(&createTablePK, "pk", "id", "primary key column name (int64)")
}

var dropTableCmd = &cobra.Command{
	Use:  "drop-table NAME",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, _ := cmd.Flags().GetString("db")
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()
		return c.DropTable(db, args[0])
	},
}

func init() { dropTableCmd.Flags().String("db", "", "database name") }

var showTableCmd = &cobra.Command{
	Use:  "show-table NAME",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, _ := cmd.Flags().GetString("db")
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()
		tbl, err := c.ShowTable(db, args[0])
		if err != nil {
			return err
		}
		printJSON(tbl)
		return nil
	},
}

func init() { showTableCmd.Flags().String("db", "", "database name") }

var showCatalogCmd = &cobra.Command{
	Use:  "show-catalog",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, _ := cmd.Flags().GetString("db")
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()
		tbls, err := c.ShowCatalog(db)
		if err != nil {
			return err
		}
		printJSON(tbls)
		return nil
	},
}

func init() { showCatalogCmd.Flags().String("db", "", "database name, empty for all") }

var showTabletCmd = &cobra.Command{
	Use:  "show-tablets",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()
		tablets, err := c.ShowTablet()
		if err != nil {
			return err
		}
		printJSON(tablets)
		return nil
	},
}

var addReplicaCmd = &cobra.Command{
	Use:  "add-replica DB TABLE PID ENDPOINT",
	Args: cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()
		pid := atoiOrZero(args[2])
		opID, err := c.AddReplicaNS(adminapi.AddReplicaNSRequest{Db: args[0], Name: args[1], Pid: pid, Endpoint: args[3]})
		if err != nil {
			return err
		}
		fmt.Printf("op_id: %d\n", opID)
		return nil
	},
}

var delReplicaCmd = &cobra.Command{
	Use:  "del-replica DB TABLE PID ENDPOINT",
	Args: cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()
		pid := atoiOrZero(args[2])
		opID, err := c.DelReplicaNS(adminapi.DelReplicaNSRequest{Db: args[0], Name: args[1], Pid: pid, Endpoint: args[3]})
		if err != nil {
			return err
		}
		fmt.Printf("op_id: %d\n", opID)
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:  "migrate DB TABLE PID SRC DST",
	Args: cobra.ExactArgs(5),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()
		pid := atoiOrZero(args[2])
		opID, err := c.Migrate(adminapi.MigrateRequest{Db: args[0], Name: args[1], Pid: pid, Src: args[3], Dst: args[4]})
		if err != nil {
			return err
		}
		fmt.Printf("op_id: %d\n", opID)
		return nil
	},
}

var changeLeaderCmd = &cobra.Command{
	Use:  "change-leader DB TABLE PID",
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()
		pid := atoiOrZero(args[2])
		opID, err := c.ChangeLeader(adminapi.ChangeLeaderRequest{Db: args[0], Name: args[1], Pid: pid})
		if err != nil {
			return err
		}
		fmt.Printf("op_id: %d\n", opID)
		return nil
	},
}

var recoverEndpointCmd = &cobra.Command{
	Use:  "recover-endpoint DB TABLE PID ENDPOINT",
	Args: cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()
		pid := atoiOrZero(args[2])
		opID, err := c.RecoverEndpoint(adminapi.RecoverEndpointRequest{Db: args[0], Name: args[1], Pid: pid, Endpoint: args[3]})
		if err != nil {
			return err
		}
		fmt.Printf("op_id: %d\n", opID)
		return nil
	},
}

var recoverTableCmd = &cobra.Command{
	Use:  "recover-table DB TABLE",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()
		opID, err := c.RecoverTable(adminapi.RecoverTableRequest{Db: args[0], Name: args[1]})
		if err != nil {
			return err
		}
		fmt.Printf("op_id: %d\n", opID)
		return nil
	},
}

var offlineEndpointCmd = &cobra.Command{
	Use:  "offline-endpoint ENDPOINT",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()
		return c.OfflineEndpoint(args[0])
	},
}

var makeSnapshotCmd = &cobra.Command{
	Use:  "make-snapshot DB TABLE PID",
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()
		pid := atoiOrZero(args[2])
		opID, err := c.MakeSnapshotNS(adminapi.MakeSnapshotNSRequest{Db: args[0], Name: args[1], Pid: pid})
		if err != nil {
			return err
		}
		fmt.Printf("op_id: %d\n", opID)
		return nil
	},
}

var cancelOPCmd = &cobra.Command{
	Use:  "cancel-op OPID",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()
		return c.CancelOP(atou64(args[0]))
	},
}

var showOPStatusCmd = &cobra.Command{
	Use:  "show-op OPID",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()
		op, err := c.ShowOPStatus(atou64(args[0]))
		if err != nil {
			return err
		}
		printJSON(op)
		return nil
	},
}

var listOPsCmd = &cobra.Command{
	Use:  "list-ops",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()
		ops, err := c.ListOPs()
		if err != nil {
			return err
		}
		printJSON(ops)
		return nil
	},
}

var confSetCmd = &cobra.Command{
	Use:  "conf-set KEY VALUE",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()
		return c.ConfSet(args[0], args[1])
	},
}

var confGetCmd = &cobra.Command{
	Use:  "conf-get KEY",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()
		val, err := c.ConfGet(args[0])
		if err != nil {
			return err
		}
		fmt.Println(val)
		return nil
	},
}

var showReplicaClusterCmd = &cobra.Command{
	Use:  "show-replica-clusters",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()
		clusters, err := c.ShowReplicaCluster()
		if err != nil {
			return err
		}
		printJSON(clusters)
		return nil
	},
}

var removeReplicaClusterCmd = &cobra.Command{
	Use:  "remove-replica-cluster ALIAS",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := dial()
		if err != nil {
			return err
		}
		defer c.Close()
		return c.RemoveReplicaCluster(args[0])
	},
}

func atoiOrZero(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func atou64(s string) uint64 {
	n, _ := strconv.ParseUint(s, 10, 64)
	return n
}
