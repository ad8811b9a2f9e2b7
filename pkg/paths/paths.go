// Package paths names the fixed MetaStore node layout (spec §6) in one
// place so every component addresses the same paths the same way.
package paths

import "fmt"

const (
	Leader          = "/leader"
	Nodes           = "/nodes"
	MapNames        = "/map/names"
	MapSdkEndpoints = "/map/sdkendpoints"
	TableIndex      = "/table/table_index"
	TableTerm       = "/table/term"
	TableData       = "/table/table_data"
	DbTableData     = "/table/db_table_data"
	TableNotify     = "/table/notify"
	Db              = "/db"
	StoredProcedure = "/store_procedure/db_sp_data"
	OpIndex         = "/op/op_index"
	OpData          = "/op/op_data"
	OpSync          = "/op/op_sync"
	ConfigRoot      = "/config"
	ClusterReplica  = "/cluster/replica"
	ClusterFollower = "/cluster/follower"
)

func Node(endpoint string) string       { return fmt.Sprintf("%s/%s", Nodes, endpoint) }
func NameMap(endpoint string) string    { return fmt.Sprintf("%s/%s", MapNames, endpoint) }
func SdkMap(endpoint string) string     { return fmt.Sprintf("%s/%s", MapSdkEndpoints, endpoint) }
func TableByName(name string) string    { return fmt.Sprintf("%s/%s", TableData, name) }
func DbTableByTid(db string, tid uint64) string {
	return fmt.Sprintf("%s/%d.%s", DbTableData, tid, db)
}
func Database(name string) string  { return fmt.Sprintf("%s/%s", Db, name) }
func Op(opID uint64) string        { return fmt.Sprintf("%s/%d", OpData, opID) }
func OpSyncBarrier(tid uint64) string { return fmt.Sprintf("%s/%d", OpSync, tid) }
func Procedure(db, name string) string {
	return fmt.Sprintf("%s/%s.%s", StoredProcedure, db, name)
}
func ClusterReplicaAlias(alias string) string { return fmt.Sprintf("%s/%s", ClusterReplica, alias) }
func Config(key string) string                { return fmt.Sprintf("%s/%s", ConfigRoot, key) }
