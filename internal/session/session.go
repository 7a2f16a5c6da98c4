// Package session holds the per-user transient state of the checkout dialogue.
package session

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Step is a position in the checkout questionnaire.
type Step int

const (
	StepNone Step = iota
	StepAwaitingName
	StepAwaitingEmail
	StepAwaitingPhone
	StepAwaitingAddress
	StepSubmitting
)

var stepNames = [...]string{
	StepNone:            "NONE",
	StepAwaitingName:    "AWAITING_NAME",
	StepAwaitingEmail:   "AWAITING_EMAIL",
	StepAwaitingPhone:   "AWAITING_PHONE",
	StepAwaitingAddress: "AWAITING_ADDRESS",
	StepSubmitting:      "SUBMITTING",
}

func (s Step) String() string {
	if s < 0 || int(s) >= len(stepNames) {
		return fmt.Sprintf("Step(%d)", int(s))
	}
	return stepNames[s]
}

// ParseStep is the inverse of Step.String.
func ParseStep(name string) (Step, error) {
	for i, n := range stepNames {
		if strings.EqualFold(n, name) {
			return Step(i), nil
		}
	}
	return StepNone, fmt.Errorf("unknown checkout step %q", name)
}

// Next returns the step that follows s. SUBMITTING and NONE have no successor
// inside the questionnaire, so they map to themselves.
func (s Step) Next() Step {
	switch s {
	case StepAwaitingName:
		return StepAwaitingEmail
	case StepAwaitingEmail:
		return StepAwaitingPhone
	case StepAwaitingPhone:
		return StepAwaitingAddress
	case StepAwaitingAddress:
		return StepSubmitting
	default:
		return s
	}
}

// Collecting reports whether s expects a free-text answer.
func (s Step) Collecting() bool {
	return s >= StepAwaitingName && s <= StepAwaitingAddress
}

func (s Step) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Step) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseStep(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// CustomerDetails are the answers gathered during checkout.
type CustomerDetails struct {
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
}

// Set stores value in the field collected at step. Other steps are ignored.
func (d *CustomerDetails) Set(step Step, value string) {
	switch step {
	case StepAwaitingName:
		d.Name = value
	case StepAwaitingEmail:
		d.Email = value
	case StepAwaitingPhone:
		d.Phone = value
	case StepAwaitingAddress:
		d.Address = value
	}
}

// Session is the transient per-user record.
type Session struct {
	Step              Step            `json:"step"`
	Details           CustomerDetails `json:"details"`
	SelectedProductID string          `json:"selected_product_id,omitempty"`
}
