package domain

import "errors"

var (
	// ErrMalformedCaseData means a case document cannot be loaded at all.
	ErrMalformedCaseData = errors.New("malformed case data")

	ErrInvalidMilestoneTransition = errors.New("invalid milestone transition")
	ErrMilestoneNotFound          = errors.New("milestone not found")
	ErrTaskNotFound               = errors.New("task not found")
	ErrPlanNotFound               = errors.New("plan not found")

	ErrStepNotValid      = errors.New("step not valid")
	ErrStepNotReachable  = errors.New("step not reachable")
	ErrStepOutOfRange    = errors.New("step out of range")
	ErrStepBusy          = errors.New("step has an operation in flight")
	ErrWizardAtFirstStep = errors.New("wizard at first step")
	ErrWizardAtLastStep  = errors.New("wizard at last step")
	ErrWizardIncomplete  = errors.New("wizard incomplete")
)
