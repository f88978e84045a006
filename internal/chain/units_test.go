package chain

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUnits(t *testing.T) {
	cases := []struct {
		in       string
		decimals int
		want     string
	}{
		{"0.00025", 18, "250000000000000"},
		{"0.001", 18, "1000000000000000"},
		{"5", 18, "5000000000000000000"},
		{"1.5", 6, "1500000"},
		{"0.0000001", 6, "0"},
	}
	for _, tc := range cases {
		got, err := ParseUnits(tc.in, tc.decimals)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got.String(), tc.in)
	}

	_, err := ParseUnits("abc", 18)
	require.Error(t, err)
	_, err = ParseUnits("-1", 18)
	require.Error(t, err)
}

func TestFormatUnits(t *testing.T) {
	v, ok := new(big.Int).SetString("500000000000000", 10)
	require.True(t, ok)
	assert.Equal(t, "0.0005", FormatUnits(v, 18))
	assert.Equal(t, "0", FormatUnits(nil, 18))
	assert.Equal(t, "1.5", FormatUnits(big.NewInt(1_500_000), 6))
}

func TestTokenRegistry(t *testing.T) {
	r := NewTokenRegistry([]Token{{Symbol: "WRBTC", Address: wrbtc, Decimals: 18}})

	tok, err := r.Resolve("wrbtc")
	require.NoError(t, err)
	assert.Equal(t, wrbtc, tok.Address)

	tok, err = r.Resolve(wrbtc.Hex())
	require.NoError(t, err)
	assert.Equal(t, "WRBTC", tok.Symbol)

	tok, err = r.Resolve(doc.Hex())
	require.NoError(t, err)
	assert.Equal(t, DefaultDecimals, tok.Decimals)

	_, err = r.Resolve("UNKNOWN")
	require.Error(t, err)
}
