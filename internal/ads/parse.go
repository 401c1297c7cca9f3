package ads

import (
	"fmt"
	"strconv"
)

// ParseChanges builds a typed change set from a flat field map, the inverse of
// FieldChanges.Fields(). Unknown field names are rejected so client typos
// never silently drop into the platform.
func ParseChanges(t EntityType, fields map[string]string) (FieldChanges, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	p := &fieldParser{fields: fields}

	var out FieldChanges
	switch t {
	case EntityCampaign:
		out = CampaignChanges{
			Name:            p.str(FieldName),
			Status:          p.str(FieldStatus),
			BudgetMicros:    p.int(FieldBudgetMicros),
			ChannelType:     p.str(FieldChannelType),
			BiddingStrategy: p.str(FieldBiddingStrategy),
		}
	case EntityAdGroup:
		out = AdGroupChanges{
			Name:         p.str(FieldName),
			Status:       p.str(FieldStatus),
			CampaignID:   p.str("campaign_id"),
			CPCBidMicros: p.int(FieldCPCBidMicros),
		}
	case EntityKeyword:
		out = KeywordChanges{
			Text:         p.str(FieldText),
			MatchType:    p.str(FieldMatchType),
			Status:       p.str(FieldStatus),
			AdGroupID:    p.str("ad_group_id"),
			CPCBidMicros: p.int(FieldCPCBidMicros),
			Negative:     p.boolean(FieldNegative),
		}
	case EntityBiddingStrategy:
		out = BiddingStrategyChanges{
			Name:            p.str(FieldName),
			StrategyType:    p.str(FieldStrategyType),
			TargetCPAMicros: p.int(FieldTargetCPAMicros),
			TargetROAS:      p.float(FieldTargetROAS),
		}
	case EntityExtension:
		out = ExtensionChanges{
			ExtensionType: p.str(FieldExtensionType),
			Text:          p.str(FieldText),
			FinalURL:      p.str(FieldFinalURL),
			CampaignID:    p.str("campaign_id"),
		}
	case EntityConversionAction:
		out = ConversionActionChanges{
			Name:        p.str(FieldName),
			Category:    p.str(FieldCategory),
			Status:      p.str(FieldStatus),
			ValueMicros: p.int(FieldValueMicros),
			CountType:   p.str(FieldCountType),
		}
	default:
		return nil, fmt.Errorf("%w: unknown entity type %q", ErrInvalidChanges, t)
	}

	if err := p.finish(); err != nil {
		return nil, err
	}
	return out, nil
}

// fieldParser consumes a field map key by key so leftovers can be reported.
type fieldParser struct {
	fields map[string]string
	used   map[string]bool
	err    error
}

func (p *fieldParser) take(key string) (string, bool) {
	v, ok := p.fields[key]
	if ok {
		if p.used == nil {
			p.used = map[string]bool{}
		}
		p.used[key] = true
	}
	return v, ok
}

func (p *fieldParser) str(key string) string {
	v, _ := p.take(key)
	return v
}

func (p *fieldParser) int(key string) *int64 {
	v, ok := p.take(key)
	if !ok {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%w: %s must be an integer, got %q", ErrInvalidChanges, key, v)
	}
	return &n
}

func (p *fieldParser) float(key string) *float64 {
	v, ok := p.take(key)
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%w: %s must be a number, got %q", ErrInvalidChanges, key, v)
	}
	return &f
}

func (p *fieldParser) boolean(key string) bool {
	v, ok := p.take(key)
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%w: %s must be a boolean, got %q", ErrInvalidChanges, key, v)
	}
	return b
}

func (p *fieldParser) finish() error {
	if p.err != nil {
		return p.err
	}
	for k := range p.fields {
		if !p.used[k] {
			return fmt.Errorf("%w: unknown field %q", ErrInvalidChanges, k)
		}
	}
	return nil
}
