// Package directory resolves Kommo users and vehicles to local rows.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/wolfman30/rental-ops/internal/store"
	"github.com/wolfman30/rental-ops/pkg/logging"
)

// Directory looks up staff accounts and vehicles.
type Directory struct {
	db     store.Datastore
	logger *logging.Logger
}

func New(db store.Datastore, logger *logging.Logger) *Directory {
	if db == nil {
		panic("directory: datastore required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Directory{db: db, logger: logger}
}

// StaffByCRMUser maps a Kommo responsible_user_id to staff_accounts.id.
func (d *Directory) StaffByCRMUser(ctx context.Context, kommoUserID int64) (string, bool, error) {
	if kommoUserID == 0 {
		return "", false, nil
	}
	id, err := d.db.SelectID(ctx, "staff_accounts", store.Eq("external_crm_id", strconv.FormatInt(kommoUserID, 10)))
	if errors.Is(err, store.ErrNotFound) {
		d.logger.Debug("no staff mapping for kommo user", "kommo_user_id", kommoUserID)
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("directory: staff lookup %d: %w", kommoUserID, err)
	}
	return id, true, nil
}

// VehicleByKommoID maps a Kommo vehicle reference to vehicles.id. A miss is
// logged and reported as not found.
func (d *Directory) VehicleByKommoID(ctx context.Context, kommoVehicleID string) (string, bool, error) {
	kommoVehicleID = strings.TrimSpace(kommoVehicleID)
	if kommoVehicleID == "" {
		return "", false, nil
	}
	id, err := d.db.SelectID(ctx, "vehicles", store.Eq("kommo_vehicle_id", kommoVehicleID))
	if errors.Is(err, store.ErrNotFound) {
		d.logger.Warn("vehicle not found for kommo vehicle id", "kommo_vehicle_id", kommoVehicleID)
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("directory: vehicle lookup %s: %w", kommoVehicleID, err)
	}
	return id, true, nil
}
