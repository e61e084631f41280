package mongo

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/livinlefevreloca/stationsync/internal/sales"
)

// Field names shared with the station application's documents
const (
	fieldID            = "_id"
	fieldStationID     = "stationDetailId"
	fieldSoldAt        = "createAt"
	fieldSyncStatus    = "syncStatus"
	fieldClaimToken    = "claimToken"
	fieldClaimedAt     = "claimedAt"
	fieldSyncAttempts  = "syncAttempts"
	fieldLastSyncError = "lastSyncError"
	fieldTransactionID = "transactionId"
	fieldSyncedAt      = "syncedAt"
)

// stationDocument is one entry of a <partition>stationdetails collection
type stationDocument struct {
	ID        primitive.ObjectID `bson:"_id"`
	Name      string             `bson:"name"`
	LicenseNo string             `bson:"licenseNo"`
	Location  string             `bson:"location"`
}

func (d stationDocument) toStation(partition sales.PartitionName) *sales.Station {
	return &sales.Station{
		ID:        d.ID.Hex(),
		Name:      d.Name,
		LicenseNo: d.LicenseNo,
		Location:  d.Location,
		Partition: partition,
	}
}

// detailSaleDocument is one entry of a <partition>detailsales collection.
// The station application never writes the sync fields, so they decode to zero values.
type detailSaleDocument struct {
	ID          primitive.ObjectID `bson:"_id"`
	StationID   primitive.ObjectID `bson:"stationDetailId"`
	Voucher     string             `bson:"vocono"`
	Nozzle      string             `bson:"nozzleNo"`
	FuelType    string             `bson:"fuelType"`
	CarNo       string             `bson:"carNo"`
	VehicleType string             `bson:"vehicleType"`
	CashType    string             `bson:"cashType"`
	SaleLiter   float64            `bson:"saleLiter"`
	UnitPrice   float64            `bson:"salePrice"`
	TotalPrice  float64            `bson:"totalPrice"`
	SoldAt      time.Time          `bson:"createAt"`

	SyncStatus    string    `bson:"syncStatus,omitempty"`
	ClaimToken    string    `bson:"claimToken,omitempty"`
	ClaimedAt     time.Time `bson:"claimedAt,omitempty"`
	SyncAttempts  int       `bson:"syncAttempts,omitempty"`
	LastSyncError string    `bson:"lastSyncError,omitempty"`
	TransactionID string    `bson:"transactionId,omitempty"`
	SyncedAt      time.Time `bson:"syncedAt,omitempty"`
}

func (d detailSaleDocument) toRecord() sales.DetailSaleRecord {
	status := sales.SyncStatus(d.SyncStatus)
	if status == "" {
		status = sales.StatusPending
	}

	return sales.DetailSaleRecord{
		ID:            d.ID.Hex(),
		StationID:     d.StationID.Hex(),
		Voucher:       d.Voucher,
		Nozzle:        d.Nozzle,
		FuelType:      d.FuelType,
		CarNo:         d.CarNo,
		VehicleType:   d.VehicleType,
		CashType:      d.CashType,
		SaleLiter:     d.SaleLiter,
		UnitPrice:     d.UnitPrice,
		TotalPrice:    d.TotalPrice,
		SoldAt:        d.SoldAt,
		SyncStatus:    status,
		ClaimToken:    d.ClaimToken,
		ClaimedAt:     d.ClaimedAt,
		SyncAttempts:  d.SyncAttempts,
		LastSyncError: d.LastSyncError,
		TransactionID: d.TransactionID,
		SyncedAt:      d.SyncedAt,
	}
}

// claimableFilter matches records a cycle may claim. $in with nil also
// matches documents that have no syncStatus field at all.
func claimableFilter() bson.M {
	return bson.M{fieldSyncStatus: bson.M{"$in": bson.A{
		nil,
		"",
		string(sales.StatusPending),
		string(sales.StatusFailed),
	}}}
}

// stationClaimableFilter narrows claimableFilter to one station
func stationClaimableFilter(stationID primitive.ObjectID) bson.M {
	filter := claimableFilter()
	filter[fieldStationID] = stationID
	return filter
}

// resolveUpdate builds the update that applies a StatusUpdate and drops the claim
func resolveUpdate(update sales.StatusUpdate) bson.M {
	set := bson.M{
		fieldSyncStatus:    string(update.Status),
		fieldLastSyncError: update.Error,
	}
	if update.Status == sales.StatusSent {
		set[fieldTransactionID] = update.TransactionID
		set[fieldSyncedAt] = update.At
	}

	return bson.M{
		"$set":   set,
		"$unset": bson.M{fieldClaimToken: "", fieldClaimedAt: ""},
	}
}
