//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobType_Valid(t *testing.T) {
	assert.True(t, JobTypeRunRule.Valid())
	assert.True(t, JobTypeAlertDispatch.Valid())
	assert.False(t, JobType("unknown").Valid())
}

func TestJobType_UnmarshalText(t *testing.T) {
	var jt JobType
	err := jt.UnmarshalText([]byte("alerts_dispatch"))
	require.NoError(t, err)
	assert.Equal(t, JobTypeAlertDispatch, jt)

	err = jt.UnmarshalText([]byte("bogus"))
	assert.Error(t, err)
}

func TestCreateJobRequest_Validate(t *testing.T) {
	payload := json.RawMessage(`{"ruleId":"abc","trigger":"schedule"}`)
	req := &CreateJobRequest{
		Type:       JobTypeRunRule,
		Payload:    payload,
		MaxRetries: 2,
	}
	assert.NoError(t, req.Validate())

	req.Type = "bogus"
	assert.Error(t, req.Validate())
}

func TestCreateJobRequest_Validate_RequiresPayload(t *testing.T) {
	req := &CreateJobRequest{Type: JobTypeAlertDispatch}
	err := req.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "payload is required")
}
