package schemas

import (
	"bytes"
	"fmt"
	"time"
)

// DateLayout is the wire format of every date field.
const DateLayout = "2006-01-02"

// -- Billing Schemas --

// Date is a calendar date without a time component. It serialises as
// "YYYY-MM-DD"; a nil *Date serialises as null.
type Date struct {
	time.Time
}

// NewDate builds a Date at midnight UTC.
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar date.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

// Ptr returns a pointer to a copy of d.
func (d Date) Ptr() *Date { return &d }

// MonthStart returns the first day of d's month, the claim period granularity.
func (d Date) MonthStart() Date {
	return NewDate(d.Year(), d.Month(), 1)
}

// Equal compares calendar dates, ignoring location and clock.
func (d Date) Equal(o Date) bool {
	return d.Year() == o.Year() && d.YearDay() == o.YearDay()
}

// Before reports whether d falls on an earlier calendar day than o.
func (d Date) Before(o Date) bool {
	return d.Time.Before(o.Time) && !d.Equal(o)
}

func (d Date) String() string {
	return d.Format(DateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.Format(DateLayout) + `"`), nil
}

func (d *Date) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("date must be a JSON string, got %s", data)
	}
	t, err := time.Parse(DateLayout, string(data[1:len(data)-1]))
	if err != nil {
		return fmt.Errorf("invalid date %s: %w", data, err)
	}
	d.Time = t
	return nil
}

// BillingRecord is one month of billing history for an account.
type BillingRecord struct {
	ClaimDate     *Date   `json:"claim_date"`
	StartDate     *Date   `json:"start_date"`
	EndDate       *Date   `json:"end_date"`
	Usage         float64 `json:"usage"`
	Amount        int64   `json:"amount"`
	Paid          int64   `json:"paid"`
	Unpaid        int64   `json:"unpaid"`
	PaymentMethod *string `json:"payment_method"`
	PaymentDate   *Date   `json:"payment_date"`
}

// ClaimKey returns the record's claim period and whether it has one.
func (r BillingRecord) ClaimKey() (Date, bool) {
	if r.ClaimDate == nil {
		return Date{}, false
	}
	return r.ClaimDate.MonthStart(), true
}

// PaidRecord is the reduced shape served by the pp portal routes.
type PaidRecord struct {
	ClaimDate *Date   `json:"claim_date"`
	Usage     float64 `json:"usage"`
	Paid      int64   `json:"paid"`
}

// ToPaid projects a full record onto the pp response shape.
func (r BillingRecord) ToPaid() PaidRecord {
	return PaidRecord{ClaimDate: r.ClaimDate, Usage: r.Usage, Paid: r.Paid}
}

// -- Request / Response Envelopes --

// FetchRequest carries the portal credentials for one extraction. The JSON
// field names follow the portal client contract.
type FetchRequest struct {
	UserID   string `json:"userId"`
	UserPw   string `json:"userPw"`
	UserNum  string `json:"userNum"`
	TestMode bool   `json:"testMode,omitempty"`
}

// Validate reports the first missing field.
func (r FetchRequest) Validate() error {
	switch {
	case r.UserID == "":
		return fmt.Errorf("userId is required")
	case r.UserPw == "":
		return fmt.Errorf("userPw is required")
	case r.UserNum == "":
		return fmt.Errorf("userNum is required")
	}
	return nil
}

// Meta is reserved for paging and provenance; currently always empty.
type Meta struct{}

// DataResponse is the success envelope.
type DataResponse[T any] struct {
	Data []T `json:"data"`
	Meta Meta `json:"meta"`
}

// ErrorResponse is the failure envelope.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}
