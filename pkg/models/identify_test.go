package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentifyRequest_PhoneNumberForms(t *testing.T) {
	tests := []struct {
		name          string
		body          string
		expectedEmail string
		expectedPhone string
		expectErr     bool
	}{
		{"string phone", `{"email":"a@b.c","phoneNumber":"123456"}`, "a@b.c", "123456", false},
		{"numeric phone", `{"phoneNumber":123456}`, "", "123456", false},
		{"null phone", `{"email":"a@b.c","phoneNumber":null}`, "a@b.c", "", false},
		{"missing both", `{}`, "", "", false},
		{"object phone", `{"phoneNumber":{"n":1}}`, "", "", true},
		{"bool phone", `{"phoneNumber":true}`, "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req IdentifyRequest
			err := json.Unmarshal([]byte(tt.body), &req)
			if tt.expectErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)

			email, phone := req.Values()
			assert.Equal(t, tt.expectedEmail, email)
			assert.Equal(t, tt.expectedPhone, phone)
		})
	}
}

func TestIdentifyResponse_JSONKeys(t *testing.T) {
	body, err := json.Marshal(IdentifyResponse{Contact: Summary{
		PrimaryContactID:    1,
		Emails:              []string{"a@b.c"},
		PhoneNumbers:        []string{},
		SecondaryContactIDs: []int64{2, 3},
	}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"contact":{"primaryContactId":1,"emails":["a@b.c"],"phoneNumbers":[],"secondaryContactIds":[2,3]}}`, string(body))
}

func TestContact_OlderThan(t *testing.T) {
	now := time.Now()
	a := Contact{ID: 5, CreatedAt: now}
	b := Contact{ID: 2, CreatedAt: now.Add(time.Second)}
	c := Contact{ID: 3, CreatedAt: now}

	assert.True(t, a.OlderThan(b))
	assert.False(t, b.OlderThan(a))
	assert.True(t, c.OlderThan(a), "equal created_at falls back to lower id")
	assert.False(t, a.OlderThan(a))
}
