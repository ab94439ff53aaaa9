package validator

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reindexBody struct {
	Mode  string `json:"mode" validate:"omitempty,oneof=rebuild update"`
	Batch int    `json:"batch_size" validate:"omitempty,min=1,max=1000"`
}

type suggestQuery struct {
	Prefix string `query:"q" validate:"required,max=10"`
	Limit  int    `validate:"gte=0,lte=20"`
}

func fieldsOf(t *testing.T, err error) map[string]string {
	t.Helper()
	require.Error(t, err)
	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	return valErr.Fields()
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want map[string]string
	}{
		{"valid", reindexBody{Mode: "update", Batch: 10}, nil},
		{"zero values", reindexBody{}, nil},
		{"oneof", reindexBody{Mode: "partial"}, map[string]string{"mode": "must be one of: rebuild, update"}},
		{"numeric max", reindexBody{Batch: 5000}, map[string]string{"batch_size": "must be at most 1000"}},
		{"query name", suggestQuery{}, map[string]string{"q": "is required"}},
		{"string max", suggestQuery{Prefix: "a very long prefix"}, map[string]string{"q": "must be at most 10 characters"}},
		{"struct name fallback", suggestQuery{Prefix: "red", Limit: 30}, map[string]string{"Limit": "must be less than or equal to 20"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.in)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, tt.want, fieldsOf(t, err))
		})
	}
}

func TestValidationError_ErrorString(t *testing.T) {
	err := Validate(reindexBody{Mode: "partial", Batch: -1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field 'mode' must be one of: rebuild, update")
	assert.Contains(t, err.Error(), "field 'batch_size' must be at least 1")
	assert.Contains(t, err.Error(), "; ")
}

func TestRegisterValidation(t *testing.T) {
	require.NoError(t, RegisterValidation("lowercase_code", func(s string) bool {
		return s == strings.ToLower(s)
	}, "must be lowercase"))

	type attr struct {
		Code string `json:"code" validate:"lowercase_code"`
	}

	assert.NoError(t, Validate(attr{Code: "colour"}))
	assert.Equal(t, map[string]string{"code": "must be lowercase"}, fieldsOf(t, Validate(attr{Code: "Colour"})))
}

func TestRegisterIntValidation(t *testing.T) {
	require.NoError(t, RegisterIntValidation("even", func(n int64) bool { return n%2 == 0 }, "must be even"))

	type batch struct {
		Size  int    `query:"size" validate:"even"`
		Label string `query:"label" validate:"omitempty,even"`
	}

	assert.NoError(t, Validate(batch{Size: 4}))
	assert.Equal(t, map[string]string{"size": "must be even"}, fieldsOf(t, Validate(batch{Size: 3})))
	assert.Equal(t, map[string]string{"label": "must be even"}, fieldsOf(t, Validate(batch{Size: 2, Label: "x"})))
}

func TestRegisterValidation_EmptyTag(t *testing.T) {
	err := RegisterValidation("", func(string) bool { return true }, "")
	assert.Error(t, err)
}

func TestDecodeAndValidate(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantErr  string
		wantMode string
	}{
		{"valid", `{"mode":"update"}`, "", "update"},
		{"empty body", ``, "", ""},
		{"malformed", `{broken`, "decode request body", ""},
		{"unknown field", `{"mode":"update","force":true}`, "decode request body", ""},
		{"fails validation", `{"mode":"partial"}`, "field 'mode'", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))

			var dst reindexBody
			err := DecodeAndValidate(req, &dst)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMode, dst.Mode)
		})
	}
}
