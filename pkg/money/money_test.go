package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Amount
		wantErr error
	}{
		{name: "integer", input: "50", want: 5000},
		{name: "one decimal", input: "50.5", want: 5050},
		{name: "two decimals", input: "0.01", want: 1},
		{name: "trailing zeros", input: "10.000", want: 1000},
		{name: "currency symbol and spaces", input: "  ₹ 12.30 ", want: 1230},
		{name: "zero", input: "0", want: 0},
		{name: "negative", input: "-1", wantErr: ErrNegative},
		{name: "precision", input: "1.001", wantErr: ErrPrecision},
		{name: "empty", input: "   ", wantErr: ErrMalformed},
		{name: "letters", input: "ten", wantErr: ErrMalformed},
		{name: "nan", input: "NaN", wantErr: ErrMalformed},
		{name: "infinity", input: "Inf", wantErr: ErrMalformed},
		{name: "exponent", input: "1e3", wantErr: ErrMalformed},
		{name: "overflow", input: "999999999999999999999", wantErr: ErrOverflow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAmountString(t *testing.T) {
	assert.Equal(t, "10.00", MustParse("10").String())
	assert.Equal(t, "0.05", Amount(5).String())
	assert.Equal(t, "1234.50", Amount(123450).String())
}

func TestFromDecimal(t *testing.T) {
	a, err := FromDecimal(decimal.RequireFromString("7.25"))
	require.NoError(t, err)
	assert.Equal(t, int64(725), a.Minor())
	assert.True(t, decimal.RequireFromString("7.25").Equal(a.Decimal()))
}

func TestArithmetic(t *testing.T) {
	a := MustParse("60")
	b := MustParse("10")

	assert.Equal(t, MustParse("70"), a.Add(b))
	assert.Equal(t, MustParse("50"), a.Sub(b))
	assert.True(t, b.LessThan(a))
	assert.True(t, Zero.IsZero())
}
