package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMinorUnits(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{in: "150", want: 15000},
		{in: "19.99", want: 1999},
		{in: "0.015", want: 2},
		{in: "10.005", want: 1001},
		{in: "999999.99", want: 99999999},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := MinorUnits(decimal.RequireFromString(tc.in))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestMinorUnitsRejectsUnpayableAmounts(t *testing.T) {
	for _, in := range []string{"0", "-5", "0.004", "1000000"} {
		t.Run(in, func(t *testing.T) {
			_, err := MinorUnits(decimal.RequireFromString(in))
			assert.ErrorIs(t, err, ErrInvalidAmount)
		})
	}
}

func TestNormalizeBaseURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{in: "", want: "http://localhost:3000"},
		{in: "clubhouse.example.com", want: "https://clubhouse.example.com"},
		{in: "https://clubhouse.example.com/", want: "https://clubhouse.example.com"},
		{in: "http://localhost:3000", want: "http://localhost:3000"},
	}
	for _, tc := range cases {
		got, err := NormalizeBaseURL(tc.in)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}

	base, _ := NormalizeBaseURL("clubhouse.example.com")
	assert.Equal(t, "https://clubhouse.example.com/login?setup_success=true", SuccessURL(base))
	assert.Equal(t, "https://clubhouse.example.com/super-admin?canceled=true", CancelURL(base))
}
