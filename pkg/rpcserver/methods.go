package rpcserver

import "google.golang.org/grpc"

// methods is every admin command's grpc.MethodDesc, built once at
// package init from the unaryHandler table below (spec §6's command
// list). Adding a command means adding one line here plus its handler
// function, nothing else.
var methods = []grpc.MethodDesc{
	unaryHandler("CreateDatabase", createDatabase),
	unaryHandler("DropDatabase", dropDatabase),
	unaryHandler("ShowDatabase", showDatabase),

	unaryHandler("CreateTable", createTable),
	unaryHandler("DropTable", dropTable),
	unaryHandler("AddTableField", addTableField),
	unaryHandler("UpdateTTL", updateTTL),
	unaryHandler("AddIndex", addIndex),
	unaryHandler("DeleteIndex", deleteIndex),
	unaryHandler("ShowTable", showTable),
	unaryHandler("ShowCatalog", showCatalog),

	unaryHandler("CreateProcedure", createProcedure),
	unaryHandler("DropProcedure", dropProcedure),

	unaryHandler("ShowTablet", showTablet),

	unaryHandler("AddReplicaNS", addReplicaNS),
	unaryHandler("DelReplicaNS", delReplicaNS),
	unaryHandler("Migrate", migrate),
	unaryHandler("ChangeLeader", changeLeader),
	unaryHandler("RecoverEndpoint", recoverEndpoint),
	unaryHandler("RecoverTable", recoverTable),
	unaryHandler("OfflineEndpoint", offlineEndpoint),
	unaryHandler("MakeSnapshotNS", makeSnapshotNS),
	unaryHandler("CancelOP", cancelOP),
	unaryHandler("ShowOPStatus", showOPStatus),
	unaryHandler("ListOPs", listOPs),

	unaryHandler("ConfSet", confSet),
	unaryHandler("ConfGet", confGet),

	unaryHandler("AddReplicaCluster", addReplicaCluster),
	unaryHandler("RemoveReplicaCluster", removeReplicaCluster),
	unaryHandler("ShowReplicaCluster", showReplicaCluster),
	unaryHandler("SwitchMode", switchMode),
	unaryHandler("SyncTable", syncTable),

	unaryHandler("SetSdkEndpoint", setSdkEndpoint),
	unaryHandler("ShowSdkEndpoint", showSdkEndpoint),

	unaryHandler("ConnectZK", connectZK),
}
