package sales

import "time"

// PartitionName identifies a logical shard of station data ("collection")
type PartitionName string

// Station identifies a physical fuel station
type Station struct {
	ID        string
	Name      string
	LicenseNo string
	Location  string
	Partition PartitionName
}

// SyncStatus represents where a detail sale record is in the settlement pipeline
type SyncStatus string

const (
	// StatusPending is eligible for the next cycle. Records without a status are pending.
	StatusPending SyncStatus = "PENDING"
	// StatusInFlight is claimed by a running cycle
	StatusInFlight SyncStatus = "IN_FLIGHT"
	// StatusSent is confirmed delivered. Terminal.
	StatusSent SyncStatus = "SENT"
	// StatusFailed was rejected or errored on delivery; eligible for the next cycle
	StatusFailed SyncStatus = "FAILED"
)

// Claimable reports whether a record in this status may be claimed by a cycle
func (s SyncStatus) Claimable() bool {
	return s == "" || s == StatusPending || s == StatusFailed
}

// DetailSaleRecord is one sales line belonging to a station
type DetailSaleRecord struct {
	ID          string
	StationID   string
	Voucher     string
	Nozzle      string
	FuelType    string
	CarNo       string
	VehicleType string
	CashType    string
	SaleLiter   float64
	UnitPrice   float64
	TotalPrice  float64
	SoldAt      time.Time

	// Synchronization bookkeeping, mutated only by the sync pipeline
	SyncStatus    SyncStatus
	ClaimToken    string
	ClaimedAt     time.Time
	SyncAttempts  int
	LastSyncError string
	TransactionID string
	SyncedAt      time.Time
}

// Claim is the in-flight reservation a cycle places on the records it submits
type Claim struct {
	Token     string
	ClaimedAt time.Time
}

// StatusUpdate resolves a claimed record
type StatusUpdate struct {
	// ClaimToken must match the record's current claim; empty skips the check
	ClaimToken    string
	Status        SyncStatus
	TransactionID string
	Error         string
	At            time.Time
}
