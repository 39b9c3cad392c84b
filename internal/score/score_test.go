package score

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultWeights_Valid(t *testing.T) {
	require.NoError(t, DefaultWeights().Validate())
	require.NoError(t, DefaultConfig().Validate())
}

func TestWeights_Validate(t *testing.T) {
	tests := []struct {
		name    string
		weights Weights
		wantErr bool
	}{
		{"defaults", DefaultWeights(), false},
		{
			"sum below one",
			Weights{Classification: 0.1, Agreement: 0.1, CellConfidence: 0.1, MatchConfidence: 0.1, Structural: 0.1},
			true,
		},
		{
			"negative weight",
			Weights{Classification: -0.1, Agreement: 0.4, CellConfidence: 0.2, MatchConfidence: 0.3, Structural: 0.2},
			true,
		},
		{
			"custom sum to one",
			Weights{Classification: 0.2, Agreement: 0.2, CellConfidence: 0.2, MatchConfidence: 0.2, Structural: 0.2},
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.weights.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoAcceptThreshold = 0
	assert.Error(t, cfg.Validate())

	cfg.AutoAcceptThreshold = 1.2
	assert.Error(t, cfg.Validate())
}

func TestOverall_Deterministic(t *testing.T) {
	in := Inputs{
		Classification:  0.97,
		Agreement:       5.0 / 6.0,
		CellConfidence:  0.91,
		MatchConfidence: 0.95,
		StructuralValid: true,
	}
	first := Overall(in, DefaultWeights())
	for range 10 {
		assert.Equal(t, first, Overall(in, DefaultWeights()))
	}
}

func TestOverall_PerfectInputs(t *testing.T) {
	in := Inputs{
		Classification:  1,
		Agreement:       1,
		CellConfidence:  1,
		MatchConfidence: 1,
		StructuralValid: true,
	}
	assert.InDelta(t, 1.0, Overall(in, DefaultWeights()), 1e-9)
}

func TestOverall_StructuralTermBinary(t *testing.T) {
	in := Inputs{
		Classification:  1,
		Agreement:       1,
		CellConfidence:  1,
		MatchConfidence: 1,
		StructuralValid: false,
	}
	// All other signals perfect, structural failure drops exactly its weight.
	assert.InDelta(t, 0.85, Overall(in, DefaultWeights()), 1e-9)
}

func TestOverall_ClampsInputs(t *testing.T) {
	in := Inputs{
		Classification:  1.5,
		Agreement:       -0.2,
		CellConfidence:  1,
		MatchConfidence: 1,
		StructuralValid: true,
	}
	want := 0.15 + 0 + 0.15 + 0.30 + 0.15
	assert.InDelta(t, want, Overall(in, DefaultWeights()), 1e-9)
}

func TestAutoAccept(t *testing.T) {
	cfg := DefaultConfig()

	clean := Inputs{
		Classification:  1,
		Agreement:       1,
		CellConfidence:  0.99,
		MatchConfidence: 1,
		StructuralValid: true,
	}
	overall, ok := AutoAccept(clean, cfg)
	assert.True(t, ok)
	assert.Greater(t, overall, cfg.AutoAcceptThreshold)

	belowThreshold := clean
	belowThreshold.CellConfidence = 0.80
	_, ok = AutoAccept(belowThreshold, cfg)
	assert.False(t, ok)
}

func TestAutoAccept_StructuralHardGate(t *testing.T) {
	// Even a permissive threshold cannot auto-accept a structurally
	// invalid submission.
	cfg := DefaultConfig()
	cfg.AutoAcceptThreshold = 0.5

	in := Inputs{
		Classification:  1,
		Agreement:       1,
		CellConfidence:  1,
		MatchConfidence: 1,
		StructuralValid: false,
	}
	overall, ok := AutoAccept(in, cfg)
	assert.False(t, ok)
	assert.InDelta(t, 0.85, overall, 1e-9)
}
