package nlrule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"stockwatch/internal/domain"
	"stockwatch/internal/templatefmt"
)

var (
	productRefPattern = regexp.MustCompile(`\bproduct\s*(?:id\s*)?#?\s*(\d+)\b`)
	numberPattern     = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)

	belowPattern     = regexp.MustCompile(`\b(below|less than|under)\b`)
	abovePattern     = regexp.MustCompile(`\b(above|exceeds?|over|more than)\b`)
	stockPattern     = regexp.MustCompile(`\bstock\b`)
	valuePattern     = regexp.MustCompile(`\b(value|inventory)\b`)
	equalsPattern    = regexp.MustCompile(`\bequals?\b|\bis\s+(0|zero)\b|\bout of stock\b`)
	highPattern      = regexp.MustCompile(`\b(critical|urgent)\b`)
	lowPattern       = regexp.MustCompile(`\blow priority\b`)
	emailPattern     = regexp.MustCompile(`\be-?mail\b|\bnotify (the )?manager\b`)
	smsPattern       = regexp.MustCompile(`\b(sms|text)\b`)
	whitespaceRegexp = regexp.MustCompile(`\s+`)
)

// Suggestions are example phrasings returned when text cannot be compiled.
var Suggestions = []string{
	"Alert me when stock is below 10 units",
	"Notify manager by email when inventory value exceeds 50000",
	"Send an urgent SMS when any product is out of stock",
}

// conditionEntry is one row of ordered condition table; all patterns must match.
type conditionEntry struct {
	condition domain.Condition
	requires  []*regexp.Regexp
}

// conditionTable is evaluated top to bottom; first full match wins.
var conditionTable = []conditionEntry{
	{condition: domain.ConditionStockBelow, requires: []*regexp.Regexp{belowPattern, stockPattern}},
	{condition: domain.ConditionInventoryValueBelow, requires: []*regexp.Regexp{belowPattern, valuePattern}},
	{condition: domain.ConditionInventoryValueAbove, requires: []*regexp.Regexp{abovePattern, valuePattern}},
	{condition: domain.ConditionStockEquals, requires: []*regexp.Regexp{equalsPattern}},
}

// Rule is compiled rule definition.
// Params: condition, threshold, priority, channels, and optional product scope.
// Returns: input for rule registration.
type Rule struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Condition   domain.Condition `json:"condition"`
	Threshold   float64          `json:"threshold"`
	Priority    domain.Priority  `json:"priority"`
	Channels    []string         `json:"channels"`
	ProductID   string           `json:"product_id,omitempty"`
}

// Result is compiler output.
// Params: validity flag with rule and description, or error with example phrasings.
// Returns: validation envelope.
type Result struct {
	Valid       bool     `json:"valid"`
	Rule        Rule     `json:"rule"`
	Description string   `json:"description,omitempty"`
	Error       string   `json:"error,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// Compile converts free text into a rule definition.
// Params: instruction text.
// Returns: valid result or failure with suggestions; never guesses missing fields.
func Compile(text string) Result {
	original := strings.TrimSpace(text)
	normalized := whitespaceRegexp.ReplaceAllString(strings.ToLower(original), " ")
	if normalized == "" {
		return failure("empty rule text")
	}

	var productID string
	if match := productRefPattern.FindStringSubmatchIndex(normalized); match != nil {
		productID = normalized[match[2]:match[3]]
		normalized = strings.TrimSpace(normalized[:match[0]] + " " + normalized[match[1]:])
	}

	condition, ok := classify(normalized)
	if !ok {
		return failure("could not determine the condition to monitor")
	}

	var threshold float64
	if condition != domain.ConditionStockEquals {
		value, found := firstNumber(normalized)
		if !found {
			return failure("could not find a numeric threshold")
		}
		threshold = value
	}

	priority := inferPriority(normalized, threshold)
	rule := Rule{
		Condition: condition,
		Threshold: threshold,
		Priority:  priority,
		Channels:  inferChannels(normalized, priority),
		ProductID: productID,
	}
	rule.Name = ruleName(rule)
	rule.Description = original

	return Result{
		Valid:       true,
		Rule:        rule,
		Description: describe(rule),
	}
}

func failure(reason string) Result {
	return Result{
		Error:       reason,
		Suggestions: append([]string(nil), Suggestions...),
	}
}

// classify finds first condition table row whose patterns all match.
func classify(text string) (domain.Condition, bool) {
	for _, entry := range conditionTable {
		matched := true
		for _, pattern := range entry.requires {
			if !pattern.MatchString(text) {
				matched = false
				break
			}
		}
		if matched {
			return entry.condition, true
		}
	}
	return "", false
}

// firstNumber returns first numeric literal, accepting thousands separators.
func firstNumber(text string) (float64, bool) {
	literal := numberPattern.FindString(text)
	if literal == "" {
		return 0, false
	}
	value, err := strconv.ParseFloat(strings.ReplaceAll(literal, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

// inferPriority applies keyword and threshold heuristics in fixed precedence.
// Params: normalized text and threshold.
// Returns: high for critical/urgent or threshold <= 5, low for "low priority" or threshold >= 100, else medium.
func inferPriority(text string, threshold float64) domain.Priority {
	switch {
	case highPattern.MatchString(text), threshold <= 5:
		return domain.PriorityHigh
	case lowPattern.MatchString(text), threshold >= 100:
		return domain.PriorityLow
	default:
		return domain.PriorityMedium
	}
}

// inferChannels always includes in-app; email and sms are keyword or priority driven.
func inferChannels(text string, priority domain.Priority) []string {
	channels := []string{domain.ChannelInApp}
	if emailPattern.MatchString(text) {
		channels = append(channels, domain.ChannelEmail)
	}
	if smsPattern.MatchString(text) || priority == domain.PriorityHigh {
		channels = append(channels, domain.ChannelSMS)
	}
	return channels
}

func ruleName(rule Rule) string {
	var name string
	switch rule.Condition {
	case domain.ConditionStockBelow:
		name = "Stock below " + templatefmt.FormatNumber(rule.Threshold)
	case domain.ConditionStockEquals:
		name = "Out of stock"
	case domain.ConditionInventoryValueAbove:
		name = "Inventory value above " + templatefmt.FormatMoney(rule.Threshold)
	case domain.ConditionInventoryValueBelow:
		name = "Inventory value below " + templatefmt.FormatMoney(rule.Threshold)
	}
	if rule.ProductID != "" {
		name = fmt.Sprintf("Product %s: %s", rule.ProductID, strings.ToLower(name[:1])+name[1:])
	}
	return name
}

// describe renders human-readable summary of compiled rule.
func describe(rule Rule) string {
	var what string
	switch rule.Condition {
	case domain.ConditionStockBelow:
		what = fmt.Sprintf("stock falls below %s units", templatefmt.FormatNumber(rule.Threshold))
	case domain.ConditionStockEquals:
		what = "stock reaches zero"
	case domain.ConditionInventoryValueAbove:
		what = fmt.Sprintf("total inventory value exceeds %s", templatefmt.FormatMoney(rule.Threshold))
	case domain.ConditionInventoryValueBelow:
		what = fmt.Sprintf("total inventory value drops below %s", templatefmt.FormatMoney(rule.Threshold))
	}
	scope := "any product"
	if rule.ProductID != "" {
		scope = "product " + rule.ProductID
	}
	if rule.Condition == domain.ConditionInventoryValueAbove || rule.Condition == domain.ConditionInventoryValueBelow {
		scope = "inventory"
	}
	return fmt.Sprintf("Alert (%s priority) when %s for %s; notify via %s",
		rule.Priority, what, scope, strings.Join(rule.Channels, ", "))
}
