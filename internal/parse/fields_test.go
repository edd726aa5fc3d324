package parse

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/kepco-scraper/api/schemas"
	"github.com/xkilldash9x/kepco-scraper/internal/faults"
)

func date(y int, m time.Month, d int) schemas.Date { return schemas.NewDate(y, m, d) }

func TestParseDate(t *testing.T) {
	t.Parallel()

	valid := []struct {
		in   string
		want schemas.Date
	}{
		{"2023.05", date(2023, time.May, 1)},
		{"2023-05", date(2023, time.May, 1)},
		{"2023/5", date(2023, time.May, 1)},
		{"2023년 05월", date(2023, time.May, 1)},
		{" 2023년05월 ", date(2023, time.May, 1)},
		{"2023.05.17", date(2023, time.May, 17)},
		{"2023-12-31", date(2023, time.December, 31)},
		{"2024년 02월 29일", date(2024, time.February, 29)},
	}
	for _, tc := range valid {
		tc := tc
		t.Run("valid "+tc.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseDate(tc.in)
			require.NoError(t, err)
			assert.True(t, tc.want.Equal(got), "want %s got %s", tc.want, got)
		})
	}

	invalid := []string{"", "May 2023", "2023", "23.05.01", "2023.13", "2023.02.30", "2023.05.01.02", "N/A"}
	for _, in := range invalid {
		in := in
		t.Run(fmt.Sprintf("invalid %q", in), func(t *testing.T) {
			t.Parallel()
			_, err := ParseDate(in)
			require.Error(t, err)
			assert.Equal(t, faults.DateParseError, faults.KindOf(err))
		})
	}
}

// Every well-formed year-month string in a span of years round-trips.
func TestParseDateRoundTrip(t *testing.T) {
	t.Parallel()
	for y := 2015; y <= 2030; y++ {
		for m := time.January; m <= time.December; m++ {
			want := date(y, m, 1)
			for _, layout := range []string{"2006.01", "2006년 01월", "2006.01.02"} {
				got, err := ParseDate(want.Format(layout))
				require.NoError(t, err, layout)
				require.True(t, want.Equal(got), "%s via %s", want, layout)
			}
		}
	}
}

func TestParseDateRange(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		in         string
		start, end *schemas.Date
	}{
		{"dotted with dash", "2023.05.01-2023.05.31", date(2023, time.May, 1).Ptr(), date(2023, time.May, 31).Ptr()},
		{"tilde", "2023.04.01 ~ 2023.04.30", date(2023, time.April, 1).Ptr(), date(2023, time.April, 30).Ptr()},
		{"dashed dates", "2023-05-01-2023-05-31", date(2023, time.May, 1).Ptr(), date(2023, time.May, 31).Ptr()},
		{"spaced dash", "2023-05-01 - 2023-05-31", date(2023, time.May, 1).Ptr(), date(2023, time.May, 31).Ptr()},
		{"bad end side", "2023.05.01-soon", date(2023, time.May, 1).Ptr(), nil},
		{"bad start side", "?-2023.05.31", nil, date(2023, time.May, 31).Ptr()},
		{"no delimiter", "2023.05.01", date(2023, time.May, 1).Ptr(), nil},
		{"empty", "", nil, nil},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			start, end := ParseDateRange(tc.in)
			assertDatePtr(t, tc.start, start)
			assertDatePtr(t, tc.end, end)
		})
	}
}

func assertDatePtr(t *testing.T, want, got *schemas.Date) {
	t.Helper()
	if want == nil {
		assert.Nil(t, got)
		return
	}
	require.NotNil(t, got)
	assert.True(t, want.Equal(*got), "want %s got %s", want, got)
}

func TestParseUsage(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		in   string
		want float64
	}{
		{"123.4kWh", 123.4},
		{"1,234kWh", 1234},
		{"120 kWh", 120},
		{"0KWH", 0},
		{"98.75", 98.75},
	}
	for _, tc := range testCases {
		got, err := ParseUsage(tc.in)
		require.NoError(t, err, tc.in)
		assert.InDelta(t, tc.want, got, 1e-9, tc.in)
	}

	for _, in := range []string{"", "kWh", "abc kWh", "-5kWh"} {
		_, err := ParseUsage(in)
		require.Error(t, err, in)
		assert.Equal(t, faults.UsageParseError, faults.KindOf(err), in)
	}
}

func TestParseAmount(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		in   string
		want int64
	}{
		{"12,345원", 12345},
		{"1,234", 1234},
		{"45,000 원", 45000},
		{"0원", 0},
		{"50,000원 (할인)", 50000},
	}
	for _, tc := range testCases {
		got, err := ParseAmount(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}

	for _, in := range []string{"", "원", "무료", "12a원", "1e3원", "99999999999999999999원"} {
		_, err := ParseAmount(in)
		require.Error(t, err, in)
		assert.Equal(t, faults.AmountParseError, faults.KindOf(err), in)
	}
}

func TestParsePaymentMethodAndDate(t *testing.T) {
	t.Parallel()

	t.Run("method and date", func(t *testing.T) {
		method, d := ParsePaymentMethodAndDate("CARD/2023.01.01")
		require.NotNil(t, method)
		assert.Equal(t, "CARD", *method)
		assertDatePtr(t, date(2023, time.January, 1).Ptr(), d)
	})

	t.Run("method only", func(t *testing.T) {
		method, d := ParsePaymentMethodAndDate("CARD")
		require.NotNil(t, method)
		assert.Equal(t, "CARD", *method)
		assert.Nil(t, d)
	})

	t.Run("unparseable date is dropped", func(t *testing.T) {
		method, d := ParsePaymentMethodAndDate("자동이체/미납")
		require.NotNil(t, method)
		assert.Equal(t, "자동이체", *method)
		assert.Nil(t, d)
	})

	t.Run("blank method", func(t *testing.T) {
		method, d := ParsePaymentMethodAndDate(" /2023.02.10")
		assert.Nil(t, method)
		assertDatePtr(t, date(2023, time.February, 10).Ptr(), d)
	})
}
