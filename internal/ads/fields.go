package ads

import (
	"errors"
	"fmt"
	"strconv"
)

// FieldChanges is the typed per-entity change set. Each entity type has a
// fixed, statically known field set; the flat field→value map only appears at
// the audit/wire boundary via Fields(). This keeps untyped dictionaries out
// of the stored audit schema.
type FieldChanges interface {
	EntityType() EntityType
	// Fields flattens the set fields. Unset fields are omitted.
	Fields() map[string]string
	// Validate checks the change set against the operation.
	Validate(op Operation) error
}

var ErrInvalidChanges = errors.New("ads: invalid field changes")

// Campaign field names as stored in audit snapshots.
const (
	FieldName             = "name"
	FieldStatus           = "status"
	FieldBudgetMicros     = "budget_micros"
	FieldChannelType      = "channel_type"
	FieldBiddingStrategy  = "bidding_strategy"
	FieldCPCBidMicros     = "cpc_bid_micros"
	FieldText             = "text"
	FieldMatchType        = "match_type"
	FieldNegative         = "negative"
	FieldStrategyType     = "strategy_type"
	FieldTargetCPAMicros  = "target_cpa_micros"
	FieldTargetROAS       = "target_roas"
	FieldExtensionType    = "extension_type"
	FieldFinalURL         = "final_url"
	FieldCategory         = "category"
	FieldValueMicros      = "value_micros"
	FieldCountType        = "count_type"
)

type CampaignChanges struct {
	Name            string
	Status          string
	BudgetMicros    *int64
	ChannelType     string
	BiddingStrategy string
}

func (c CampaignChanges) EntityType() EntityType { return EntityCampaign }

func (c CampaignChanges) Fields() map[string]string {
	m := map[string]string{}
	putStr(m, FieldName, c.Name)
	putStr(m, FieldStatus, c.Status)
	putInt(m, FieldBudgetMicros, c.BudgetMicros)
	putStr(m, FieldChannelType, c.ChannelType)
	putStr(m, FieldBiddingStrategy, c.BiddingStrategy)
	return m
}

func (c CampaignChanges) Validate(op Operation) error {
	if op == OpCreate {
		if c.Name == "" {
			return fmt.Errorf("%w: campaign create requires name", ErrInvalidChanges)
		}
		if c.BudgetMicros == nil || *c.BudgetMicros <= 0 {
			return fmt.Errorf("%w: campaign create requires positive budget_micros", ErrInvalidChanges)
		}
	}
	if c.BudgetMicros != nil && *c.BudgetMicros <= 0 {
		return fmt.Errorf("%w: budget_micros must be positive", ErrInvalidChanges)
	}
	return nil
}

type AdGroupChanges struct {
	Name         string
	Status       string
	CampaignID   string
	CPCBidMicros *int64
}

func (c AdGroupChanges) EntityType() EntityType { return EntityAdGroup }

func (c AdGroupChanges) Fields() map[string]string {
	m := map[string]string{}
	putStr(m, FieldName, c.Name)
	putStr(m, FieldStatus, c.Status)
	putStr(m, "campaign_id", c.CampaignID)
	putInt(m, FieldCPCBidMicros, c.CPCBidMicros)
	return m
}

func (c AdGroupChanges) Validate(op Operation) error {
	if op == OpCreate {
		if c.Name == "" {
			return fmt.Errorf("%w: ad group create requires name", ErrInvalidChanges)
		}
		if c.CampaignID == "" {
			return fmt.Errorf("%w: ad group create requires campaign_id", ErrInvalidChanges)
		}
	}
	if c.CPCBidMicros != nil && *c.CPCBidMicros <= 0 {
		return fmt.Errorf("%w: cpc_bid_micros must be positive", ErrInvalidChanges)
	}
	return nil
}

type KeywordChanges struct {
	Text         string
	MatchType    string // EXACT, PHRASE, BROAD
	Status       string
	AdGroupID    string
	CPCBidMicros *int64
	Negative     bool
}

func (c KeywordChanges) EntityType() EntityType { return EntityKeyword }

func (c KeywordChanges) Fields() map[string]string {
	m := map[string]string{}
	putStr(m, FieldText, c.Text)
	putStr(m, FieldMatchType, c.MatchType)
	putStr(m, FieldStatus, c.Status)
	putStr(m, "ad_group_id", c.AdGroupID)
	putInt(m, FieldCPCBidMicros, c.CPCBidMicros)
	if c.Negative {
		m[FieldNegative] = "true"
	}
	return m
}

func (c KeywordChanges) Validate(op Operation) error {
	if op == OpCreate {
		if c.Text == "" {
			return fmt.Errorf("%w: keyword create requires text", ErrInvalidChanges)
		}
		if c.AdGroupID == "" {
			return fmt.Errorf("%w: keyword create requires ad_group_id", ErrInvalidChanges)
		}
	}
	switch c.MatchType {
	case "", "EXACT", "PHRASE", "BROAD":
	default:
		return fmt.Errorf("%w: unknown match_type %q", ErrInvalidChanges, c.MatchType)
	}
	if c.CPCBidMicros != nil && *c.CPCBidMicros <= 0 {
		return fmt.Errorf("%w: cpc_bid_micros must be positive", ErrInvalidChanges)
	}
	return nil
}

type BiddingStrategyChanges struct {
	Name            string
	StrategyType    string // TARGET_CPA, TARGET_ROAS
	TargetCPAMicros *int64
	TargetROAS      *float64
}

func (c BiddingStrategyChanges) EntityType() EntityType { return EntityBiddingStrategy }

func (c BiddingStrategyChanges) Fields() map[string]string {
	m := map[string]string{}
	putStr(m, FieldName, c.Name)
	putStr(m, FieldStrategyType, c.StrategyType)
	putInt(m, FieldTargetCPAMicros, c.TargetCPAMicros)
	if c.TargetROAS != nil {
		m[FieldTargetROAS] = strconv.FormatFloat(*c.TargetROAS, 'f', -1, 64)
	}
	return m
}

func (c BiddingStrategyChanges) Validate(op Operation) error {
	if op == OpCreate {
		if c.Name == "" {
			return fmt.Errorf("%w: bidding strategy create requires name", ErrInvalidChanges)
		}
		switch c.StrategyType {
		case "TARGET_CPA":
			if c.TargetCPAMicros == nil || *c.TargetCPAMicros <= 0 {
				return fmt.Errorf("%w: TARGET_CPA requires positive target_cpa_micros", ErrInvalidChanges)
			}
		case "TARGET_ROAS":
			if c.TargetROAS == nil || *c.TargetROAS <= 0 {
				return fmt.Errorf("%w: TARGET_ROAS requires positive target_roas", ErrInvalidChanges)
			}
		default:
			return fmt.Errorf("%w: unknown strategy_type %q", ErrInvalidChanges, c.StrategyType)
		}
	}
	return nil
}

type ExtensionChanges struct {
	ExtensionType string // SITELINK, CALLOUT, STRUCTURED_SNIPPET
	Text          string
	FinalURL      string
	CampaignID    string
}

func (c ExtensionChanges) EntityType() EntityType { return EntityExtension }

func (c ExtensionChanges) Fields() map[string]string {
	m := map[string]string{}
	putStr(m, FieldExtensionType, c.ExtensionType)
	putStr(m, FieldText, c.Text)
	putStr(m, FieldFinalURL, c.FinalURL)
	putStr(m, "campaign_id", c.CampaignID)
	return m
}

func (c ExtensionChanges) Validate(op Operation) error {
	if op == OpCreate {
		if c.ExtensionType == "" || c.Text == "" {
			return fmt.Errorf("%w: extension create requires extension_type and text", ErrInvalidChanges)
		}
	}
	return nil
}

type ConversionActionChanges struct {
	Name        string
	Category    string
	Status      string
	ValueMicros *int64
	CountType   string // ONE_PER_CLICK, MANY_PER_CLICK
}

func (c ConversionActionChanges) EntityType() EntityType { return EntityConversionAction }

func (c ConversionActionChanges) Fields() map[string]string {
	m := map[string]string{}
	putStr(m, FieldName, c.Name)
	putStr(m, FieldCategory, c.Category)
	putStr(m, FieldStatus, c.Status)
	putInt(m, FieldValueMicros, c.ValueMicros)
	putStr(m, FieldCountType, c.CountType)
	return m
}

func (c ConversionActionChanges) Validate(op Operation) error {
	if op == OpCreate && c.Name == "" {
		return fmt.Errorf("%w: conversion action create requires name", ErrInvalidChanges)
	}
	if c.ValueMicros != nil && *c.ValueMicros < 0 {
		return fmt.Errorf("%w: value_micros must not be negative", ErrInvalidChanges)
	}
	return nil
}

func putStr(m map[string]string, k, v string) {
	if v != "" {
		m[k] = v
	}
}

func putInt(m map[string]string, k string, v *int64) {
	if v != nil {
		m[k] = strconv.FormatInt(*v, 10)
	}
}
