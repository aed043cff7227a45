// Package types holds the plain data structures shared across the region
// server: region descriptors, server identity, and the message envelopes
// exchanged with the master.
package types

import "fmt"

// RegionInfo describes a region: the contiguous key range of a table that
// this server may be asked to open, serve, or split.
type RegionInfo struct {
	// RegionID is a server-local monotonically increasing identifier,
	// combined with TableName to form Name.
	RegionID int64

	TableName string
	StartKey  []byte
	EndKey    []byte

	// IsMetaTable is true for the catalog region that maps user rows to
	// their hosting region servers.
	IsMetaTable bool
	// IsRootTable is true for the singleton region that locates the meta
	// regions. A root region is also, trivially, a meta table.
	IsRootTable bool

	// Offline is set once a region has been split; its row in the catalog
	// is updated but the parent keeps serving until the master reassigns
	// the children.
	Offline bool
	Split   bool

	// SplitA and SplitB are populated on the parent's catalog row once a
	// split has committed.
	SplitA *RegionInfo `json:"splitA,omitempty"`
	SplitB *RegionInfo `json:"splitB,omitempty"`
}

// Name derives the region's unique name from its table, start key, and
// region id, mirroring how a freshly created region is named.
func (r *RegionInfo) Name() string {
	return fmt.Sprintf("%s,%s,%d", r.TableName, string(r.StartKey), r.RegionID)
}

// IsCatalog reports whether this region is part of the root/meta catalog
// rather than a user table.
func (r *RegionInfo) IsCatalog() bool {
	return r.IsMetaTable || r.IsRootTable
}

// ServerIdentity is the fixed record describing this process, established
// once at startup and used as the key under which the master tracks this
// server's lease.
type ServerIdentity struct {
	Address   string
	StartCode int64
	InfoPort  int

	// Load is a mutable snapshot refreshed on every heartbeat.
	Load ServerLoad
}

// String renders the identity the way it appears in WAL directory names and
// log lines: <address>,<startcode>.
func (s ServerIdentity) String() string {
	return fmt.Sprintf("%s,%d", s.Address, s.StartCode)
}

// ServerLoad is the current-request-rate and region-count snapshot attached
// to a heartbeat.
type ServerLoad struct {
	RequestCount int64
	RegionCount  int
}

// OutboundKind enumerates the message kinds a server reports to the master
// on each heartbeat.
type OutboundKind string

const (
	ReportOpen        OutboundKind = "REPORT_OPEN"
	ReportClose       OutboundKind = "REPORT_CLOSE"
	ReportSplit       OutboundKind = "REPORT_SPLIT"
	ReportProcessOpen OutboundKind = "REPORT_PROCESS_OPEN"
	ReportExiting     OutboundKind = "REPORT_EXITING"
	ReportQuiesced    OutboundKind = "REPORT_QUIESCED"
)

// OutboundMessage is one entry in the outbound buffer drained on every
// heartbeat. Region is nil for server-wide messages (REPORT_EXITING,
// REPORT_QUIESCED).
type OutboundMessage struct {
	Kind   OutboundKind
	Region *RegionInfo
}

// InstructionKind enumerates the instructions the master can hand back in a
// heartbeat response.
type InstructionKind string

const (
	InstrRegionOpen               InstructionKind = "REGION_OPEN"
	InstrRegionClose              InstructionKind = "REGION_CLOSE"
	InstrRegionCloseWithoutReport InstructionKind = "REGION_CLOSE_WITHOUT_REPORT"
	InstrServerQuiesce            InstructionKind = "REGIONSERVER_QUIESCE"
	InstrServerStop               InstructionKind = "REGIONSERVER_STOP"
	InstrCallServerStartup        InstructionKind = "CALL_SERVER_STARTUP"
)

// Instruction is one entry in the inbound queue awaiting the Worker. Retries
// tracks how many times delivery to the worker has been reattempted after an
// IO failure.
type Instruction struct {
	Kind    InstructionKind
	Region  *RegionInfo
	Report  bool
	Retries int
}

// HeartbeatRequest is what the main loop sends the master on every cycle.
type HeartbeatRequest struct {
	Identity ServerIdentity
	Outbound []OutboundMessage
}

// HeartbeatResponse is the master's reply: zero or more instructions for the
// Worker to execute.
type HeartbeatResponse struct {
	Instructions []Instruction
}

// StartupRequest is sent once, repeatedly until it succeeds, during
// "report for duty".
type StartupRequest struct {
	Identity ServerIdentity
}

// StartupResponse carries configuration overrides, including the shared
// filesystem root directory, that the master wants this server to adopt.
type StartupResponse struct {
	ConfigMap map[string]string
	// LeaseStillHeld is set when a prior generation of this identity has
	// not yet timed out on the master; the caller should retry.
	LeaseStillHeld bool
}

// RowUpdate is a single column write within a batchUpdate call.
type RowUpdate struct {
	Row       []byte
	Family    string
	Qualifier []byte
	Value     []byte
	Timestamp int64
}

// Cell is a single versioned column value returned by get/scan.
type Cell struct {
	Row       []byte
	Family    string
	Qualifier []byte
	Value     []byte
	Timestamp int64
}

// ScanSpec describes an openScanner request.
type ScanSpec struct {
	Columns   []string
	FirstRow  []byte
	Filter    string
	// Timestamp is the version ceiling; zero means "latest".
	Timestamp int64
}
