package sqlutil

import (
	"testing"
	"time"

	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

func TestNumericRoundTripKeepsPrecision(t *testing.T) {
	d := decimal.RequireFromString("123456789012345678.000000001")
	back, err := FromNumeric(ToNumeric(d))
	check.NoError(t, err)
	check.True(t, d.Equal(back))

	_, err = FromNumeric("twelve")
	check.Error(t, err)
}

func TestMicros(t *testing.T) {
	check.Equal(t, int64(90_000_000), ToMicros(90*time.Second))
	check.Equal(t, 90*time.Second, FromMicros(90_000_000))
}

func TestNullString(t *testing.T) {
	check.True(t, ToNullString("") == nil)
	check.Equal(t, "x", *ToNullString("x"))
	check.Equal(t, "fallback", FromNullString(nil, "fallback"))
}
