package scale

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weigh-station-backend/config"
)

func testScaleConfig() *config.ScaleConfig {
	return &config.ScaleConfig{
		CountsPerGram:  1000.0,
		KgMultiplier:   1000.0,
		DefaultNetUnit: "auto",
	}
}

func TestDecoderDecode(t *testing.T) {
	boolPtr := func(b bool) *bool { return &b }

	testCases := []struct {
		name          string
		line          string
		expectParsed  bool
		expectedGrams float64
		expectedHint  *bool
	}{
		{
			name:          "Stable gross frame in kilograms",
			line:          "ST,GS,  0.000kg",
			expectParsed:  true,
			expectedGrams: 0.0,
			expectedHint:  boolPtr(true),
		},
		{
			name:          "Unstable net frame in grams",
			line:          "US,NT,+12.34 g",
			expectParsed:  true,
			expectedGrams: 12.34,
			expectedHint:  boolPtr(false),
		},
		{
			name:          "Net line without unit defaults to kilograms",
			line:          "Net weight: 1.234",
			expectParsed:  true,
			expectedGrams: 1234.0,
			expectedHint:  nil,
		},
		{
			name:          "Net line with explicit pounds",
			line:          "NET 2 lb",
			expectParsed:  true,
			expectedGrams: 907.18474,
			expectedHint:  nil,
		},
		{
			name:         "Verbose ticket field without net value is ignored",
			line:         "Gross   1.500kg",
			expectParsed: false,
		},
		{
			name:         "Tare ticket line is ignored",
			line:         "Tare    0.100kg",
			expectParsed: false,
		},
		{
			name:          "Embedded unit token",
			line:          "1.23Kg",
			expectParsed:  true,
			expectedGrams: 1230.0,
		},
		{
			name:          "Unit in neighbouring token",
			line:          "12.5 g",
			expectParsed:  true,
			expectedGrams: 12.5,
		},
		{
			name:          "Ounces",
			line:          "4 oz",
			expectParsed:  true,
			expectedGrams: 113.3980925,
		},
		{
			name:          "Bare number taken as grams",
			line:          "42.5",
			expectParsed:  true,
			expectedGrams: 42.5,
		},
		{
			name:          "Negative value after tare",
			line:          "ST,NT,-0.005kg",
			expectParsed:  true,
			expectedGrams: -5.0,
			expectedHint:  boolPtr(true),
		},
		{
			name:         "No numeric content",
			line:         "HELLO WORLD",
			expectParsed: false,
		},
		{
			name:         "Absurdly large number rejected",
			line:         "20060102150405",
			expectParsed: false,
		},
		{
			name:         "Empty frame",
			line:         "",
			expectParsed: false,
		},
	}

	decoder := NewDecoder(testScaleConfig())
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			reading, parsed := decoder.Decode(RawFrame{Payload: []byte(tc.line), At: time.Now()})
			assert.Equal(t, tc.expectParsed, parsed)
			if !tc.expectParsed {
				return
			}
			assert.InDelta(t, tc.expectedGrams, reading.Grams, 1e-6)
			assert.Equal(t, tc.expectedHint, reading.StableHint)
			require.NotNil(t, reading.RawCounts)
		})
	}
}

func TestDecoderDerivesCounts(t *testing.T) {
	decoder := NewDecoder(testScaleConfig())
	reading, parsed := decoder.Decode(RawFrame{Payload: []byte("ST,GS, 1.000kg"), At: time.Now()})
	require.True(t, parsed)
	require.NotNil(t, reading.RawCounts)
	assert.Equal(t, int64(1000000), *reading.RawCounts)
}

func TestDecoderKgMultiplier(t *testing.T) {
	cfg := testScaleConfig()
	cfg.KgMultiplier = 1001.5
	decoder := NewDecoder(cfg)
	reading, parsed := decoder.Decode(RawFrame{Payload: []byte("2kg"), At: time.Now()})
	require.True(t, parsed)
	assert.InDelta(t, 2003.0, reading.Grams, 1e-9)
}

func TestDecoderConfiguredDefaultNetUnit(t *testing.T) {
	cfg := testScaleConfig()
	cfg.DefaultNetUnit = "g"
	decoder := NewDecoder(cfg)
	reading, parsed := decoder.Decode(RawFrame{Payload: []byte("Net: 250"), At: time.Now()})
	require.True(t, parsed)
	assert.InDelta(t, 250.0, reading.Grams, 1e-9)
}

func TestDecoderUnstableWinsOverStable(t *testing.T) {
	decoder := NewDecoder(testScaleConfig())
	reading, parsed := decoder.Decode(RawFrame{Payload: []byte("ST US 5.0 g"), At: time.Now()})
	require.True(t, parsed)
	require.NotNil(t, reading.StableHint)
	assert.False(t, *reading.StableHint)
}
