package domain

import (
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// ModeKind names the availability mode variants.
type ModeKind string

const (
	ModeNormal   ModeKind = "normal"
	ModeHoliday  ModeKind = "holiday"
	ModeVacation ModeKind = "vacation"
)

// AvailabilityMode is a closed set: NormalMode, HolidayMode or VacationMode.
type AvailabilityMode interface {
	Kind() ModeKind
	// Covers reports whether the mode's window includes the given calendar date.
	Covers(date civil.Date) bool
	sealed()
}

// NormalMode means the seller is open with no availability window.
type NormalMode struct{}

func (NormalMode) Kind() ModeKind         { return ModeNormal }
func (NormalMode) Covers(civil.Date) bool { return false }
func (NormalMode) sealed()                {}

// HolidayMode closes a single calendar day.
type HolidayMode struct {
	Date civil.Date
}

func (HolidayMode) Kind() ModeKind { return ModeHoliday }

func (m HolidayMode) Covers(date civil.Date) bool { return m.Date == date }

func (HolidayMode) sealed() {}

// VacationMode closes an inclusive date range.
type VacationMode struct {
	Start civil.Date
	End   civil.Date
}

func (VacationMode) Kind() ModeKind { return ModeVacation }

func (m VacationMode) Covers(date civil.Date) bool {
	return !date.Before(m.Start) && !date.After(m.End)
}

func (VacationMode) sealed() {}

// NewVacationMode validates the range before constructing the mode.
func NewVacationMode(start, end civil.Date) (VacationMode, error) {
	if !start.IsValid() || !end.IsValid() {
		return VacationMode{}, fmt.Errorf("vacation dates must be valid calendar dates")
	}
	if end.Before(start) {
		return VacationMode{}, fmt.Errorf("vacation end %s is before start %s", end, start)
	}
	return VacationMode{Start: start, End: end}, nil
}

// HandlingKind selects what happens to listings during an availability window.
type HandlingKind string

const (
	// HandlingExtend keeps selling and quotes a longer delivery time.
	HandlingExtend HandlingKind = "extend"
	// HandlingPause hides every product of the seller.
	HandlingPause HandlingKind = "pause"
)

// HandlingPolicy pairs the handling kind with the number of extra delivery days.
type HandlingPolicy struct {
	Kind       HandlingKind
	ExtendDays int
}

// SellerAvailability is the one-per-seller availability state.
type SellerAvailability struct {
	SellerID  string
	Paused    bool
	Mode      AvailabilityMode
	Handling  HandlingPolicy
	UpdatedAt time.Time
}

// DefaultAvailability is the state assumed when a seller has no stored record.
func DefaultAvailability(sellerID string) SellerAvailability {
	return SellerAvailability{
		SellerID: sellerID,
		Mode:     NormalMode{},
		Handling: HandlingPolicy{Kind: HandlingExtend},
	}
}

// ModeOrNormal guards against zero-value records.
func (a SellerAvailability) ModeOrNormal() AvailabilityMode {
	if a.Mode == nil {
		return NormalMode{}
	}
	return a.Mode
}

// ParseMode builds a mode from its wire form. Dates are YYYY-MM-DD; only the dates relevant to
// kind are read, so a vacation with a leftover holiday date cannot be represented.
func ParseMode(kind, holiday, start, end string) (AvailabilityMode, error) {
	switch ModeKind(strings.ToLower(strings.TrimSpace(kind))) {
	case ModeNormal, "":
		return NormalMode{}, nil
	case ModeHoliday:
		date, err := civil.ParseDate(strings.TrimSpace(holiday))
		if err != nil {
			return nil, fmt.Errorf("holiday date %q must be YYYY-MM-DD", holiday)
		}
		return HolidayMode{Date: date}, nil
	case ModeVacation:
		from, err := civil.ParseDate(strings.TrimSpace(start))
		if err != nil {
			return nil, fmt.Errorf("vacation start %q must be YYYY-MM-DD", start)
		}
		to, err := civil.ParseDate(strings.TrimSpace(end))
		if err != nil {
			return nil, fmt.Errorf("vacation end %q must be YYYY-MM-DD", end)
		}
		return NewVacationMode(from, to)
	default:
		return nil, fmt.Errorf("unknown availability mode %q", kind)
	}
}

// FormatMode is the inverse of ParseMode. Dates that do not apply to the mode are empty.
func FormatMode(mode AvailabilityMode) (kind ModeKind, holiday, start, end string) {
	switch m := mode.(type) {
	case HolidayMode:
		return ModeHoliday, m.Date.String(), "", ""
	case VacationMode:
		return ModeVacation, "", m.Start.String(), m.End.String()
	default:
		return ModeNormal, "", "", ""
	}
}

// ParseHandling accepts "extend" or "pause"; empty means extend.
func ParseHandling(kind string) (HandlingKind, error) {
	switch HandlingKind(strings.ToLower(strings.TrimSpace(kind))) {
	case HandlingExtend, "":
		return HandlingExtend, nil
	case HandlingPause:
		return HandlingPause, nil
	}
	return "", fmt.Errorf("unknown handling %q", kind)
}
