package state

import "time"

const (
	// UnassignedAddress is the reserved RINA address meaning "request one
	// during enrolment".
	UnassignedAddress uint64 = 0

	// DefaultChangeLogCapacity bounds the RIB change log when a config
	// omits rib.change_log_size.
	DefaultChangeLogCapacity = 1000

	// DefaultBindPort is the conventional shim port. The config loader does
	// not apply it: a shim.bind_endpoint without a port fails validation.
	DefaultBindPort = 7638
)

var (
	DefaultEnrolmentTimeout      = 5 * time.Second
	DefaultMaxRetries            = 5
	DefaultInitialBackoff        = 200 * time.Millisecond
	DefaultHeartbeatInterval     = 10 * time.Second
	DefaultConnectionTimeout     = 30 * time.Second
	DefaultRibSyncInterval       = 5 * time.Second
	DefaultSnapshotInterval      = 30 * time.Second
	DefaultDynamicRouteTTL       = 5 * time.Minute
	DefaultEnrolmentPollInterval = 50 * time.Millisecond
	DefaultStaleFlowTimeout      = 60 * time.Second
	DefaultInvokeTimeout         = 5 * time.Second
)
