package utils

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ttacon/libphonenumber"
)

var CountryCode = "MM"

// DayKey returns the calendar-day key used to address inventory records.
func DayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// ParseDayKey parses a calendar-day key back into a midnight UTC time.
func ParseDayKey(key string) (time.Time, error) {
	return time.Parse("2006-01-02", key)
}

// FormatPhone normalizes a customer phone number to E.164 when it parses for
// the configured country. Unparseable input is returned unchanged; upstream
// documents are not under our schema control.
func FormatPhone(phone string) string {
	if phone == "" {
		return phone
	}
	p, err := libphonenumber.Parse(phone, CountryCode)
	if err != nil || !libphonenumber.IsValidNumber(p) {
		return phone
	}
	return libphonenumber.Format(p, libphonenumber.E164)
}

func ProcessValidationErrors(err error) map[string]string {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return map[string]string{"error": err.Error()}
	}
	errorResponse := make(map[string]string)
	for _, ve := range validationErrors {
		errorResponse[ve.Field()] = ve.Tag()
	}
	return errorResponse
}
