package room

import "fmt"

// ResubmitPolicy decides what happens when a slot submits a second time before resolution.
type ResubmitPolicy string

const (
	// ResubmitOverwrite keeps the last submission.
	ResubmitOverwrite ResubmitPolicy = "overwrite"
	// ResubmitReject keeps the first submission and rejects later ones.
	ResubmitReject ResubmitPolicy = "reject"
)

func ParseResubmitPolicy(s string) (ResubmitPolicy, error) {
	switch p := ResubmitPolicy(s); p {
	case ResubmitOverwrite, ResubmitReject:
		return p, nil
	case "":
		return ResubmitOverwrite, nil
	default:
		return "", fmt.Errorf("room: unknown resubmission policy %q", s)
	}
}

// StartPolicy decides who may send the synchronized start signal.
type StartPolicy string

const (
	// StartWhenArmed requires a slot owner and both slots ready.
	StartWhenArmed StartPolicy = "armed"
	// StartAnySlot only requires a slot owner.
	StartAnySlot StartPolicy = "anyslot"
)

func ParseStartPolicy(s string) (StartPolicy, error) {
	switch p := StartPolicy(s); p {
	case StartWhenArmed, StartAnySlot:
		return p, nil
	case "":
		return StartWhenArmed, nil
	default:
		return "", fmt.Errorf("room: unknown start policy %q", s)
	}
}
