// Package catalog is the fixed Kommo configuration table: custom-field ids,
// the pipeline status map and the document field mapping.
package catalog

import (
	"strconv"
	"strings"

	"github.com/wolfman30/rental-ops/internal/config"
)

// BookingStatus is the lifecycle state stored on bookings.status.
type BookingStatus string

const (
	StatusLead       BookingStatus = "lead"
	StatusConfirmed  BookingStatus = "confirmed"
	StatusDelivery   BookingStatus = "delivery"
	StatusInProgress BookingStatus = "in_progress"
	StatusCompleted  BookingStatus = "completed"
	StatusCancelled  BookingStatus = "cancelled"
)

// DocType classifies a client document.
type DocType string

const (
	DocPassport      DocType = "passport_id"
	DocDriverLicense DocType = "driver_license"
	DocEmiratesID    DocType = "emirates_id"
	DocMulkiya       DocType = "mulkiya"
	DocInsurance     DocType = "insurance"
	DocGeneric       DocType = "generic"
)

// Pipeline status ids.
const (
	StatusNewInquiry        int64 = 68245911
	StatusQuoteSent         int64 = 68245915
	StatusAwaitingDocuments int64 = 68245919
	StatusDepositPaid       int64 = 68245923
	StatusBookingConfirmed  int64 = 68245927
	StatusDeliveryWithin24h int64 = 68245931
	StatusOutForDelivery    int64 = 68245935
	StatusCarDelivered      int64 = 68245939
	StatusRentalActive      int64 = 68245943
	StatusExtension         int64 = 68245947
	StatusCollection        int64 = 68245951
	StatusCarReturned       int64 = 68245955
	StatusClosedWon         int64 = 142
	StatusClosedLost        int64 = 143
)

// Status is one row of the pipeline status table.
type Status struct {
	ID      int64
	Label   string
	Booking BookingStatus
}

var statusTable = []Status{
	{StatusNewInquiry, "New inquiry", StatusLead},
	{StatusQuoteSent, "Quote sent", StatusLead},
	{StatusAwaitingDocuments, "Awaiting documents", StatusLead},
	{StatusDepositPaid, "Deposit paid", StatusConfirmed},
	{StatusBookingConfirmed, "Booking confirmed", StatusConfirmed},
	{StatusDeliveryWithin24h, "Delivery within 24h", StatusDelivery},
	{StatusOutForDelivery, "Out for delivery", StatusDelivery},
	{StatusCarDelivered, "Car delivered", StatusInProgress},
	{StatusRentalActive, "Rental active", StatusInProgress},
	{StatusExtension, "Extension requested", StatusInProgress},
	{StatusCollection, "Collection scheduled", StatusInProgress},
	{StatusCarReturned, "Car returned", StatusCompleted},
	{StatusClosedWon, "Closed - won", StatusCompleted},
	{StatusClosedLost, "Closed - lost", StatusCancelled},
}

// Fields holds the custom-field ids the pipeline reads.
type Fields struct {
	Vehicle          int64
	VehicleCode      string
	DeliveryDate     int64
	CollectDate      int64
	DeliveryLocation int64
	CollectLocation  int64
	DailyPrice       int64
	DurationDays     int64
	DeliveryFee      int64
	InsuranceFee     int64
	FullInsuranceFee int64
	AdvancePayment   int64
	DepositOption    int64
	AgreementNumber  int64

	Nationality int64
	Gender      int64
}

// DefaultFields returns the production field ids.
func DefaultFields() Fields {
	return Fields{
		Vehicle:          1001,
		VehicleCode:      "VEHICLE",
		DeliveryDate:     1002,
		CollectDate:      1003,
		DeliveryLocation: 1004,
		CollectLocation:  1005,
		DailyPrice:       1006,
		DurationDays:     1007,
		DeliveryFee:      1008,
		InsuranceFee:     1009,
		FullInsuranceFee: 1010,
		AdvancePayment:   1011,
		DepositOption:    1012,
		AgreementNumber:  1013,
		Nationality:      2001,
		Gender:           2002,
	}
}

// DocumentField maps a file custom field to the document type it carries.
type DocumentField struct {
	FieldID int64
	DocType DocType
}

// Catalog bundles the lookup tables with any env overrides applied.
type Catalog struct {
	Fields           Fields
	ContactDocuments []DocumentField
	LeadDocuments    []DocumentField

	statuses          map[int64]Status
	confirmed         map[BookingStatus]bool
	salesOrderTrigger map[int64]bool
	recognitionStatus int64
}

// New builds the catalog; a nil cfg yields the defaults.
func New(cfg *config.Config) *Catalog {
	fields := DefaultFields()
	if cfg != nil {
		if cfg.VehicleFieldID != 0 {
			fields.Vehicle = cfg.VehicleFieldID
		}
		if code := strings.TrimSpace(cfg.VehicleFieldCode); code != "" {
			fields.VehicleCode = code
		}
		if cfg.DeliveryDateFieldID != 0 {
			fields.DeliveryDate = cfg.DeliveryDateFieldID
		}
		if cfg.CollectDateFieldID != 0 {
			fields.CollectDate = cfg.CollectDateFieldID
		}
		if cfg.DeliveryLocationFieldID != 0 {
			fields.DeliveryLocation = cfg.DeliveryLocationFieldID
		}
		if cfg.CollectLocationFieldID != 0 {
			fields.CollectLocation = cfg.CollectLocationFieldID
		}
	}

	statuses := make(map[int64]Status, len(statusTable))
	for _, s := range statusTable {
		statuses[s.ID] = s
	}
	return &Catalog{
		Fields: fields,
		ContactDocuments: []DocumentField{
			{FieldID: 2101, DocType: DocPassport},
			{FieldID: 2102, DocType: DocDriverLicense},
			{FieldID: 2103, DocType: DocEmiratesID},
		},
		LeadDocuments: []DocumentField{
			{FieldID: 1101, DocType: DocMulkiya},
			{FieldID: 1102, DocType: DocInsurance},
		},
		statuses: statuses,
		confirmed: map[BookingStatus]bool{
			StatusConfirmed:  true,
			StatusDelivery:   true,
			StatusInProgress: true,
		},
		salesOrderTrigger: map[int64]bool{
			StatusDepositPaid:      true,
			StatusBookingConfirmed: true,
		},
		recognitionStatus: StatusDeliveryWithin24h,
	}
}

// BookingStatus maps a Kommo status id; unknown ids are leads.
func (c *Catalog) BookingStatus(statusID int64) BookingStatus {
	if s, ok := c.statuses[statusID]; ok {
		return s.Booking
	}
	return StatusLead
}

// StatusLabel returns the human label, or the id itself when unmapped.
func (c *Catalog) StatusLabel(statusID int64) string {
	if s, ok := c.statuses[statusID]; ok {
		return s.Label
	}
	if statusID == 0 {
		return ""
	}
	return strconv.FormatInt(statusID, 10)
}

// Known reports whether the status id is in the table.
func (c *Catalog) Known(statusID int64) bool {
	_, ok := c.statuses[statusID]
	return ok
}

// IsConfirmed reports whether a booking in this state should carry a price.
func (c *Catalog) IsConfirmed(status BookingStatus) bool {
	return c.confirmed[status]
}

// TriggersSalesOrder reports whether entering statusID creates a sales order.
func (c *Catalog) TriggersSalesOrder(statusID int64) bool {
	return c.salesOrderTrigger[statusID]
}

// TriggersRecognition reports whether statusID is the delivery-within-24h stage.
func (c *Catalog) TriggersRecognition(statusID int64) bool {
	return statusID != 0 && statusID == c.recognitionStatus
}
