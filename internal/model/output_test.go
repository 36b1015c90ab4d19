package model

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/schema"
)

func TestOutput_UnmarshalKeepsWrongTypedFields(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		want        *Output
		wantInvalid map[string]interface{}
	}{
		{
			name: "all valid",
			raw:  `{"intent":"X","tone":"Y","urgency":"High","confidence_score":0.9}`,
			want: &Output{Intent: StringPtr("X"), Tone: StringPtr("Y"), Urgency: StringPtr("High"), ConfidenceScore: Float64Ptr(0.9)},
		},
		{
			name: "score as string",
			raw:  `{"intent":"X","urgency":"High","confidence_score":"0.9"}`,
			want: &Output{
				Intent:  StringPtr("X"),
				Urgency: StringPtr("High"),
				Invalid: map[string]interface{}{"confidence_score": "0.9"},
			},
		},
		{
			name: "urgency as number",
			raw:  `{"urgency":3}`,
			want: &Output{Invalid: map[string]interface{}{"urgency": float64(3)}},
		},
		{
			name: "null and unknown fields",
			raw:  `{"intent":null,"extra":"ignored"}`,
			want: &Output{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Output
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &got))
			assert.Equal(t, tt.want, &got)
		})
	}

	var out Output
	require.Error(t, json.Unmarshal([]byte(`["intent"]`), &out))
}

func TestOutput_FieldsIncludeInvalid(t *testing.T) {
	out := &Output{
		Urgency: StringPtr("High"),
		Invalid: map[string]interface{}{"confidence_score": "0.9"},
	}

	fields := out.Fields()
	assert.Equal(t, map[string]interface{}{"urgency": "High", "confidence_score": "0.9"}, fields)

	// 写库再读出后保留类型不符的字段
	v, err := out.Value()
	require.NoError(t, err)
	var back Output
	require.NoError(t, back.Scan(v))
	assert.Equal(t, out, &back)
}

func TestModels_JSONColumnsParse(t *testing.T) {
	cache := &sync.Map{}
	for _, m := range AllModels {
		s, err := schema.Parse(m, cache, schema.NamingStrategy{})
		require.NoError(t, err, "%T", m)

		for _, f := range s.Fields {
			switch f.Name {
			case "Metadata", "Tags", "ControlMetrics", "TreatmentMetrics", "FeedbackData", "OptimizationGoals", "Output":
				assert.Equal(t, schema.DataType("json"), f.DataType, "%T.%s", m, f.Name)
			}
		}
	}
}
