package engine

import (
	"errors"
	"fmt"
	"strings"

	"stockwatch/internal/config"
	"stockwatch/internal/domain"

	"github.com/google/uuid"
)

var (
	// ErrDuplicateRule is returned when a rule id is already registered.
	ErrDuplicateRule = errors.New("rule id already exists")
	// ErrInvalidRule wraps rule definition validation failures.
	ErrInvalidRule = errors.New("invalid rule")
)

// RuleDefinition is input for AddRule.
// Params: rule fields; zero values are replaced by defaults.
// Returns: definition validated and normalized by the engine.
type RuleDefinition struct {
	ID          string
	Name        string
	Description string
	Type        domain.AlertType
	Condition   domain.Condition
	Threshold   float64
	Enabled     *bool
	Priority    domain.Priority
	Channels    []string
	ProductID   string
}

// FromConfig converts one `[rule.<id>]` table into engine definition.
// Params: rule config.
// Returns: rule definition.
func FromConfig(rule config.RuleConfig) RuleDefinition {
	return RuleDefinition{
		ID:          rule.ID,
		Name:        rule.Name,
		Description: rule.Description,
		Type:        domain.AlertType(strings.TrimSpace(rule.Type)),
		Condition:   domain.Condition(strings.TrimSpace(rule.Condition)),
		Threshold:   rule.Threshold,
		Enabled:     rule.Enabled,
		Priority:    domain.Priority(strings.TrimSpace(rule.Priority)),
		Channels:    append([]string(nil), rule.Channels...),
		ProductID:   rule.ProductID,
	}
}

// DefaultRules returns the rule set installed at startup.
// Params: none.
// Returns: fresh definitions with stable ids.
func DefaultRules() []RuleDefinition {
	return []RuleDefinition{
		{
			ID:          "low-stock",
			Name:        "Low Stock Alert",
			Description: "Products with stock below 10 units",
			Condition:   domain.ConditionStockBelow,
			Threshold:   10,
			Priority:    domain.PriorityMedium,
			Channels:    []string{domain.ChannelInApp, domain.ChannelEmail},
		},
		{
			ID:          "out-of-stock",
			Name:        "Out of Stock Alert",
			Description: "Products that are out of stock",
			Condition:   domain.ConditionStockEquals,
			Threshold:   0,
			Priority:    domain.PriorityHigh,
			Channels:    []string{domain.ChannelInApp, domain.ChannelEmail, domain.ChannelSMS},
		},
		{
			ID:          "high-inventory-value",
			Name:        "High Inventory Value",
			Description: "Total inventory value above $100,000",
			Condition:   domain.ConditionInventoryValueAbove,
			Threshold:   100000,
			Priority:    domain.PriorityLow,
			Channels:    []string{domain.ChannelInApp},
		},
		{
			ID:          "low-inventory-value",
			Name:        "Low Inventory Value",
			Description: "Total inventory value below $10,000",
			Condition:   domain.ConditionInventoryValueBelow,
			Threshold:   10000,
			Priority:    domain.PriorityMedium,
			Channels:    []string{domain.ChannelInApp, domain.ChannelEmail},
		},
	}
}

// normalizeRule applies defaults and validates definition.
// Params: definition and creation time source output.
// Returns: rule ready for store or ErrInvalidRule-wrapped error.
func normalizeRule(def RuleDefinition) (domain.Rule, error) {
	rule := domain.Rule{
		ID:          strings.TrimSpace(def.ID),
		Name:        strings.TrimSpace(def.Name),
		Description: strings.TrimSpace(def.Description),
		Type:        def.Type,
		Condition:   def.Condition,
		Threshold:   def.Threshold,
		Enabled:     def.Enabled == nil || *def.Enabled,
		Priority:    def.Priority,
		ProductID:   strings.TrimSpace(def.ProductID),
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if rule.Name == "" {
		return domain.Rule{}, fmt.Errorf("%w: name is required", ErrInvalidRule)
	}

	switch rule.Condition {
	case domain.ConditionStockBelow, domain.ConditionInventoryValueAbove, domain.ConditionInventoryValueBelow:
	case domain.ConditionStockEquals:
		if rule.Threshold != 0 {
			return domain.Rule{}, fmt.Errorf("%w: stock_equals requires threshold 0, got %v", ErrInvalidRule, rule.Threshold)
		}
	default:
		return domain.Rule{}, fmt.Errorf("%w: unsupported condition %q", ErrInvalidRule, rule.Condition)
	}
	if rule.Threshold < 0 {
		return domain.Rule{}, fmt.Errorf("%w: threshold must be >=0", ErrInvalidRule)
	}

	expectedType := domain.TypeForCondition(rule.Condition)
	if rule.Type == "" {
		rule.Type = expectedType
	}
	if rule.Type != expectedType {
		return domain.Rule{}, fmt.Errorf("%w: type %q does not match condition %q", ErrInvalidRule, rule.Type, rule.Condition)
	}

	switch rule.Priority {
	case "":
		rule.Priority = domain.PriorityMedium
	case domain.PriorityHigh, domain.PriorityMedium, domain.PriorityLow:
	default:
		return domain.Rule{}, fmt.Errorf("%w: unsupported priority %q", ErrInvalidRule, rule.Priority)
	}

	channels, err := normalizeChannels(def.Channels)
	if err != nil {
		return domain.Rule{}, err
	}
	rule.Channels = channels
	return rule, nil
}

// normalizeChannels validates channel list and removes duplicates keeping first occurrence.
// Params: requested channel keys.
// Returns: ordered channel set (defaults to in-app).
func normalizeChannels(channels []string) ([]string, error) {
	out := make([]string, 0, len(channels))
	seen := make(map[string]struct{}, len(channels))
	for _, raw := range channels {
		channel := strings.TrimSpace(raw)
		if !domain.IsSupportedChannel(channel) {
			return nil, fmt.Errorf("%w: unsupported channel %q", ErrInvalidRule, raw)
		}
		if _, dup := seen[channel]; dup {
			continue
		}
		seen[channel] = struct{}{}
		out = append(out, channel)
	}
	if len(out) == 0 {
		out = append(out, domain.ChannelInApp)
	}
	return out, nil
}
