package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// IdentifyRequest is the body of POST /api/identify. At least one of the two
// fields must be non-empty; that rule is enforced by the identity service.
type IdentifyRequest struct {
	Email       *string     `json:"email,omitempty" validate:"omitempty,max=320"`
	PhoneNumber *PhoneInput `json:"phoneNumber,omitempty" validate:"omitempty"`
}

// IdentifyResponse wraps the consolidated contact.
type IdentifyResponse struct {
	Contact Summary `json:"contact"`
}

// PhoneInput accepts a phone number sent either as a JSON string or number.
// Numbers keep their literal digits.
type PhoneInput string

func (p *PhoneInput) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*p = ""
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = PhoneInput(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("phoneNumber must be a string or number")
	}
	*p = PhoneInput(n.String())
	return nil
}

func (p *PhoneInput) String() string {
	if p == nil {
		return ""
	}
	return string(*p)
}

// Values returns the raw email and phone, "" meaning absent.
func (r IdentifyRequest) Values() (email, phone string) {
	if r.Email != nil {
		email = *r.Email
	}
	return email, r.PhoneNumber.String()
}
