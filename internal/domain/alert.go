package domain

import "time"

// AlertType groups rules by the data they watch.
// Params: inventory/business constants.
// Returns: alert classification used by recipient policy.
type AlertType string

const (
	// AlertTypeInventory marks per-product stock rules.
	AlertTypeInventory AlertType = "inventory"
	// AlertTypeBusiness marks aggregate business rules.
	AlertTypeBusiness AlertType = "business"
)

// Condition identifies how a rule is evaluated.
// Params: supported condition constants.
// Returns: evaluator dispatch key.
type Condition string

const (
	// ConditionStockBelow triggers when any product has 0 < stock < threshold.
	ConditionStockBelow Condition = "stock_below"
	// ConditionStockEquals triggers when any product has stock == 0.
	ConditionStockEquals Condition = "stock_equals"
	// ConditionInventoryValueAbove triggers when sum(price*stock) > threshold.
	ConditionInventoryValueAbove Condition = "inventory_value_above"
	// ConditionInventoryValueBelow triggers when sum(price*stock) < threshold.
	ConditionInventoryValueBelow Condition = "inventory_value_below"
)

// Priority ranks alert urgency.
// Params: high/medium/low constants.
// Returns: urgency used for titles and recipients.
type Priority string

const (
	// PriorityHigh is the most urgent level.
	PriorityHigh Priority = "high"
	// PriorityMedium is the default level.
	PriorityMedium Priority = "medium"
	// PriorityLow is informational.
	PriorityLow Priority = "low"
)

const (
	// ChannelInApp stores notifications in the in-app inbox.
	ChannelInApp = "in-app"
	// ChannelEmail delivers notifications by email.
	ChannelEmail = "email"
	// ChannelSMS delivers short text messages.
	ChannelSMS = "sms"
)

// ChannelNames returns every supported delivery channel in stable order.
// Params: none.
// Returns: channel keys.
func ChannelNames() []string {
	return []string{ChannelInApp, ChannelEmail, ChannelSMS}
}

// IsSupportedChannel reports whether channel key is known.
// Params: channel key.
// Returns: true for in-app/email/sms.
func IsSupportedChannel(channel string) bool {
	switch channel {
	case ChannelInApp, ChannelEmail, ChannelSMS:
		return true
	default:
		return false
	}
}

// TypeForCondition derives alert type from rule condition.
// Params: rule condition.
// Returns: inventory for stock conditions, business otherwise.
func TypeForCondition(condition Condition) AlertType {
	switch condition {
	case ConditionStockBelow, ConditionStockEquals:
		return AlertTypeInventory
	default:
		return AlertTypeBusiness
	}
}

// Rule is one monitored condition with delivery preferences.
// Params: identity, condition, threshold, priority, channels, and trigger statistics.
// Returns: rule snapshot owned by the engine.
type Rule struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Description   string     `json:"description,omitempty"`
	Type          AlertType  `json:"type"`
	Condition     Condition  `json:"condition"`
	Threshold     float64    `json:"threshold"`
	Enabled       bool       `json:"enabled"`
	Priority      Priority   `json:"priority"`
	Channels      []string   `json:"channels"`
	ProductID     string     `json:"product_id,omitempty"`
	LastTriggered *time.Time `json:"last_triggered,omitempty"`
	TriggerCount  int64      `json:"trigger_count"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Clone returns deep copy safe to hand outside the engine lock.
// Params: none.
// Returns: detached rule copy.
func (r Rule) Clone() Rule {
	out := r
	out.Channels = append([]string(nil), r.Channels...)
	if r.LastTriggered != nil {
		last := *r.LastTriggered
		out.LastTriggered = &last
	}
	return out
}

// Product is one record returned by the data source.
// Params: identifier, display name, unit price, and stock quantity.
// Returns: evaluation input and alert payload item.
type Product struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
	Stock float64 `json:"stock"`
}

// StockPayload is alert data for stock conditions.
// Params: matching products, their count, and rule threshold.
// Returns: evaluation evidence.
type StockPayload struct {
	Products  []Product `json:"products"`
	Count     int       `json:"count"`
	Threshold float64   `json:"threshold"`
}

// HasOutOfStock reports whether any payload product has zero stock.
// Params: none.
// Returns: true when at least one product is out of stock.
func (p StockPayload) HasOutOfStock() bool {
	for _, product := range p.Products {
		if product.Stock == 0 {
			return true
		}
	}
	return false
}

// ValuePayload is alert data for inventory value conditions.
// Params: computed value, threshold, and absolute difference.
// Returns: evaluation evidence.
type ValuePayload struct {
	CurrentValue float64 `json:"current_value"`
	Threshold    float64 `json:"threshold"`
	Difference   float64 `json:"difference"`
}

// Alert is produced when a rule condition holds during an evaluation pass.
// Params: rule snapshot fields, message, payload, and acknowledgement state.
// Returns: immutable record except acknowledgement fields.
type Alert struct {
	ID             string     `json:"id"`
	RuleID         string     `json:"rule_id"`
	RuleName       string     `json:"rule_name"`
	Type           AlertType  `json:"type"`
	Priority       Priority   `json:"priority"`
	Message        string     `json:"message"`
	Data           any        `json:"data"`
	Channels       []string   `json:"channels"`
	Timestamp      time.Time  `json:"timestamp"`
	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}

// Clone returns alert copy with detached slices and timestamps.
// Params: none.
// Returns: copy safe for concurrent readers.
func (a Alert) Clone() Alert {
	out := a
	out.Channels = append([]string(nil), a.Channels...)
	if a.AcknowledgedAt != nil {
		at := *a.AcknowledgedAt
		out.AcknowledgedAt = &at
	}
	if a.ResolvedAt != nil {
		at := *a.ResolvedAt
		out.ResolvedAt = &at
	}
	return out
}

// HasOutOfStockProduct reports whether inventory alert evidence contains zero-stock products.
// Params: none.
// Returns: true for inventory alerts with out-of-stock payload items.
func (a Alert) HasOutOfStockProduct() bool {
	if a.Type != AlertTypeInventory {
		return false
	}
	switch payload := a.Data.(type) {
	case StockPayload:
		return payload.HasOutOfStock()
	case *StockPayload:
		return payload != nil && payload.HasOutOfStock()
	default:
		return false
	}
}
