package model_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nudgelabs/nudged/internal/domain/model"
)

func TestJobKindUnmarshalText(t *testing.T) {
	cases := []struct {
		in      string
		want    model.JobKind
		wantErr bool
	}{
		{in: "recurring", want: model.JobKindRecurring},
		{in: "One-Time", want: model.JobKindOneTime},
		{in: "  recurring  ", want: model.JobKindRecurring},
		{in: "once", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range cases {
		var kind model.JobKind
		err := kind.UnmarshalText([]byte(tc.in))
		if tc.wantErr {
			assert.Error(t, err, "input %q", tc.in)
			continue
		}
		require.NoError(t, err, "input %q", tc.in)
		assert.Equal(t, tc.want, kind)
	}
}

func TestJobStatusTerminal(t *testing.T) {
	assert.False(t, model.JobStatusPending.Terminal())
	assert.True(t, model.JobStatusCompleted.Terminal())
	assert.True(t, model.JobStatusFailed.Terminal())
}

func TestJobWireFormat(t *testing.T) {
	lease := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)
	lastError := "provider rejected handle"
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name       string
		job        model.Job
		wantKeys   []string
		wantAbsent []string
	}{
		{
			name: "leased pending job",
			job: model.Job{
				ID:             "4b8f6c1e-0a34-4a7c-9d2f-6f1d2b3c4d5e",
				Kind:           model.JobKindRecurring,
				Status:         model.JobStatusPending,
				Params:         json.RawMessage(`{"type":"push-message","user_id":"u1","message":"drink water"}`),
				LeaseExpiresAt: &lease,
				CreatedAt:      created,
				UpdatedAt:      created,
			},
			wantKeys:   []string{"id", "kind", "status", "params", "lease_expires_at", "created_at", "updated_at"},
			wantAbsent: []string{"last_error"},
		},
		{
			name: "failed job with error and no lease",
			job: model.Job{
				ID:        "9c2d1a7b-5e6f-4071-8a9b-0c1d2e3f4a5b",
				Kind:      model.JobKindOneTime,
				Status:    model.JobStatusFailed,
				Params:    json.RawMessage(`{"type":"push-message","user_id":"u2","message":"stretch"}`),
				LastError: &lastError,
				CreatedAt: created,
				UpdatedAt: created.Add(time.Minute),
			},
			wantKeys:   []string{"id", "kind", "status", "params", "last_error", "created_at", "updated_at"},
			wantAbsent: []string{"lease_expires_at"},
		},
		{
			name: "minimal job",
			job: model.Job{
				ID:     "0f1e2d3c-4b5a-6978-8796-a5b4c3d2e1f0",
				Kind:   model.JobKindOneTime,
				Status: model.JobStatusPending,
				Params: json.RawMessage(`{"type":"push-message"}`),
			},
			wantKeys:   []string{"id", "kind", "status", "params", "created_at", "updated_at"},
			wantAbsent: []string{"last_error", "lease_expires_at"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw, err := json.Marshal(tc.job)
			require.NoError(t, err)

			var fields map[string]json.RawMessage
			require.NoError(t, json.Unmarshal(raw, &fields))
			for _, key := range tc.wantKeys {
				assert.Contains(t, fields, key)
			}
			for _, key := range tc.wantAbsent {
				assert.NotContains(t, fields, key)
			}

			var decoded model.Job
			require.NoError(t, json.Unmarshal(raw, &decoded))
			assert.Equal(t, tc.job.ID, decoded.ID)
			assert.Equal(t, tc.job.Kind, decoded.Kind)
			assert.Equal(t, tc.job.Status, decoded.Status)
			assert.JSONEq(t, string(tc.job.Params), string(decoded.Params))

			if tc.job.LeaseExpiresAt == nil {
				assert.Nil(t, decoded.LeaseExpiresAt)
			} else {
				require.NotNil(t, decoded.LeaseExpiresAt)
				assert.True(t, tc.job.LeaseExpiresAt.Equal(*decoded.LeaseExpiresAt))
			}
			if tc.job.LastError == nil {
				assert.Nil(t, decoded.LastError)
			} else {
				require.NotNil(t, decoded.LastError)
				assert.Equal(t, *tc.job.LastError, *decoded.LastError)
			}
		})
	}
}

func TestJobParamsType(t *testing.T) {
	job := model.Job{Params: json.RawMessage(`{"type":"push-message","user_id":"u1"}`)}
	assert.Equal(t, model.ParamsTypePushMessage, job.ParamsType())

	job.Params = json.RawMessage(`{"user_id":"u1"}`)
	assert.Empty(t, job.ParamsType())

	job.Params = json.RawMessage(`not-json`)
	assert.Empty(t, job.ParamsType())
}

func TestCreateJobRequestValidate(t *testing.T) {
	valid := model.CreateJobRequest{
		Kind:   model.JobKindOneTime,
		Params: json.RawMessage(`{"type":"push-message","user_id":"u1","message":"hi"}`),
	}
	assert.NoError(t, valid.Validate())

	withStatus := valid
	withStatus.Status = model.JobStatusCompleted
	assert.NoError(t, withStatus.Validate())

	badKind := valid
	badKind.Kind = "weekly"
	assert.Error(t, badKind.Validate())

	noParams := valid
	noParams.Params = nil
	assert.Error(t, noParams.Validate())

	untyped := valid
	untyped.Params = json.RawMessage(`{"user_id":"u1"}`)
	assert.Error(t, untyped.Validate())

	badStatus := valid
	badStatus.Status = "running"
	assert.Error(t, badStatus.Validate())
}

func TestNewPushMessageParams(t *testing.T) {
	raw, err := model.NewPushMessageParams("u1", "stand up")
	require.NoError(t, err)

	var params model.PushMessageParams
	require.NoError(t, json.Unmarshal(raw, &params))
	assert.Equal(t, model.ParamsTypePushMessage, params.Type)
	assert.Equal(t, "u1", params.UserID)
	assert.Equal(t, "stand up", params.Message)

	_, err = model.NewPushMessageParams("", "stand up")
	assert.Error(t, err)
	_, err = model.NewPushMessageParams("u1", "")
	assert.Error(t, err)
}

func TestMessagePlainText(t *testing.T) {
	msg := model.Message{Content: []model.ContentBlock{
		{Type: model.ContentBlockTypeText, Text: "hello "},
		{Type: "image", Text: "ignored"},
		{Type: model.ContentBlockTypeText, Text: "world"},
	}}
	assert.Equal(t, "hello world", msg.PlainText())
}

func TestAppendMessageRequestValidate(t *testing.T) {
	valid := model.AppendMessageRequest{
		UserID:  "u1",
		Role:    model.MessageRoleAssistant,
		Content: model.TextContent("hi"),
	}
	assert.NoError(t, valid.Validate())

	noUser := valid
	noUser.UserID = ""
	assert.Error(t, noUser.Validate())

	badRole := valid
	badRole.Role = "system"
	assert.Error(t, badRole.Validate())

	noContent := valid
	noContent.Content = nil
	assert.Error(t, noContent.Validate())
}
