package domain

import (
	"errors"
	"fmt"
	"time"
)

// AttemptStatus is the lifecycle state of a delivery attempt.
type AttemptStatus string

const (
	AttemptStatusPending  AttemptStatus = "pending"
	AttemptStatusSuccess  AttemptStatus = "success"
	AttemptStatusTimedOut AttemptStatus = "timedout"
)

// IsTerminal returns true once the status can no longer change.
func (s AttemptStatus) IsTerminal() bool {
	return s == AttemptStatusSuccess || s == AttemptStatusTimedOut
}

// ParseAttemptStatus validates a status name.
func ParseAttemptStatus(s string) (AttemptStatus, error) {
	switch st := AttemptStatus(s); st {
	case AttemptStatusPending, AttemptStatusSuccess, AttemptStatusTimedOut:
		return st, nil
	default:
		return "", fmt.Errorf("unknown attempt status %q", s)
	}
}

// Stage is an intermediate timing checkpoint of an attempt.
type Stage string

const (
	StageReceived Stage = "received"
	StageRouted   Stage = "routed"
	StageSent     Stage = "sent"
)

var (
	ErrAttemptTerminal = errors.New("attempt is already terminal")
	ErrStageOrder      = errors.New("stage timestamp violates ordering")
	ErrStageRecorded   = errors.New("stage already recorded")
	ErrStatusConflict  = errors.New("attempt finalized with a different status")
	ErrUnknownStage    = errors.New("unknown stage")
	ErrNotTerminal     = errors.New("finalize requires a terminal status")
)

// DeliveryAttempt is one reliability test record for a gateway client.
type DeliveryAttempt struct {
	ID              int64         `json:"id"`
	MSISDN          string        `json:"msisdn"`
	StartTime       time.Time     `json:"start_time"`
	SMSReceivedTime *time.Time    `json:"sms_received_time"`
	SMSRoutedTime   *time.Time    `json:"sms_routed_time"`
	SMSSentTime     *time.Time    `json:"sms_sent_time"`
	Status          AttemptStatus `json:"status"`
}

// NewDeliveryAttempt opens a pending attempt started at the given receipt time.
func NewDeliveryAttempt(msisdn string, start time.Time) *DeliveryAttempt {
	return &DeliveryAttempt{
		MSISDN:    msisdn,
		StartTime: start,
		Status:    AttemptStatusPending,
	}
}

// timeline returns the stage slots in their required order.
func (a *DeliveryAttempt) timeline() []*time.Time {
	start := a.StartTime
	return []*time.Time{&start, a.SMSReceivedTime, a.SMSRoutedTime, a.SMSSentTime}
}

func stageIndex(stage Stage) int {
	switch stage {
	case StageReceived:
		return 1
	case StageRouted:
		return 2
	case StageSent:
		return 3
	default:
		return -1
	}
}

// RecordStage stamps a checkpoint. Stamps must keep the timeline
// start <= received <= routed <= sent and may only be written once.
func (a *DeliveryAttempt) RecordStage(stage Stage, at time.Time) error {
	if a.Status.IsTerminal() {
		return ErrAttemptTerminal
	}
	idx := stageIndex(stage)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrUnknownStage, stage)
	}

	line := a.timeline()
	if line[idx] != nil {
		return fmt.Errorf("%w: %s", ErrStageRecorded, stage)
	}
	for i, ts := range line {
		if ts == nil {
			continue
		}
		if i < idx && at.Before(*ts) {
			return fmt.Errorf("%w: %s before an earlier stage", ErrStageOrder, stage)
		}
		if i > idx && at.After(*ts) {
			return fmt.Errorf("%w: %s after a later stage", ErrStageOrder, stage)
		}
	}

	t := at
	switch stage {
	case StageReceived:
		a.SMSReceivedTime = &t
	case StageRouted:
		a.SMSRoutedTime = &t
	case StageSent:
		a.SMSSentTime = &t
	}
	return nil
}

// Finalize moves the attempt to a terminal status. A success also stamps the
// sent stage when it is missing. Repeating the current terminal status is a
// no-op and reports changed=false.
func (a *DeliveryAttempt) Finalize(status AttemptStatus, at time.Time) (changed bool, err error) {
	if !status.IsTerminal() {
		return false, ErrNotTerminal
	}
	if a.Status.IsTerminal() {
		if a.Status == status {
			return false, nil
		}
		return false, ErrStatusConflict
	}

	if status == AttemptStatusSuccess && a.SMSSentTime == nil {
		if err := a.RecordStage(StageSent, at); err != nil {
			return false, err
		}
	}
	a.Status = status
	return true, nil
}
