package services

import "errors"

var (
	ErrRuleNotFound         = errors.New("automation rule not found")
	ErrInvalidTrigger       = errors.New("trigger must be EVENT_BASED or SCHEDULED")
	ErrInvalidConditions    = errors.New("invalid conditions document")
	ErrInvalidActions       = errors.New("invalid actions document")
	ErrUnknownAction        = errors.New("unsupported action type")
	ErrProposalNotFound     = errors.New("proposal not found")
	ErrProposalNotAccepted  = errors.New("proposal has not been accepted")
	ErrJobNotFound          = errors.New("job not found")
	ErrContractNotFound     = errors.New("contract not found")
	ErrContractNotSignable  = errors.New("contract is not awaiting signature")
	ErrNoBudget             = errors.New("no budget could be determined for contract")
	ErrCampaignNotFound     = errors.New("campaign not found")
	ErrCampaignNotScheduled = errors.New("campaign is not scheduled")
	ErrNoRecipients         = errors.New("campaign has no recipients")
	ErrInvalidContent       = errors.New("invalid template content")
	ErrMailCircuitOpen      = errors.New("mail transport circuit open")
	ErrMissingContext       = errors.New("action context is missing a required field")
)
