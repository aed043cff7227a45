/*
Package types defines the plain data structures shared across regiond: region
descriptors, this server's identity, and the message envelopes exchanged
with the master over a heartbeat and with clients over the row-level RPCs.

None of these types carry behavior beyond small derivations (RegionInfo.Name,
ServerIdentity.String); persistence, wire encoding, and validation live in the
packages that use them (pkg/catalog, pkg/rpcwire, pkg/wal).

# Core types

Region identity:
  - RegionInfo: a contiguous key range of a table, identified by table name,
    start key, and a server-local region id. Carries the catalog/root flags
    and the split bookkeeping (Offline, Split, SplitA, SplitB) that a parent
    region's catalog row accumulates once it has been divided.

Server identity and load:
  - ServerIdentity: address, start code, and info port fixed at startup and
    used as the key under which the master tracks this server's lease.
  - ServerLoad: the request-count/region-count snapshot attached to each
    heartbeat.

Heartbeat protocol:
  - OutboundMessage / OutboundKind: one entry in the outbound buffer this
    server drains on every heartbeat (REPORT_OPEN, REPORT_CLOSE,
    REPORT_SPLIT, REPORT_PROCESS_OPEN, REPORT_EXITING, REPORT_QUIESCED).
  - Instruction / InstructionKind: one entry in the inbound queue the master
    hands back in a heartbeat response (REGION_OPEN, REGION_CLOSE,
    REGIONSERVER_QUIESCE, REGIONSERVER_STOP, CALL_SERVER_STARTUP).
  - HeartbeatRequest / HeartbeatResponse: the pair exchanged each cycle.
  - StartupRequest / StartupResponse: the one-time "report for duty"
    exchange; the response may carry LeaseStillHeld when a prior generation
    of this identity has not yet timed out.

Row data:
  - RowUpdate: a single column write within a batchUpdate call.
  - Cell: a single versioned column value returned by get/scan.
  - ScanSpec: the column/filter/timestamp-ceiling parameters of an
    openScanner request.

# Usage

	info := &types.RegionInfo{
		TableName: "orders",
		StartKey:  []byte("a"),
		EndKey:    []byte("m"),
		RegionID:  1,
	}

	identity := types.ServerIdentity{Address: "10.0.0.12:9090", StartCode: time.Now().UnixNano()}

	req := types.HeartbeatRequest{
		Identity: identity,
		Outbound: []types.OutboundMessage{{Kind: types.ReportOpen, Region: info}},
	}

# Thread safety

Values in this package carry no synchronization of their own. RegionInfo and
ServerIdentity are treated as immutable once constructed; callers that need
to mutate a shared instance (the registry's region map, the outbox's
buffer) hold their own lock around it.
*/
package types
