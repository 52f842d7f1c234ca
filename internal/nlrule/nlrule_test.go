package nlrule

import (
	"strings"
	"testing"

	"stockwatch/internal/domain"
)

func TestCompileStockBelow(t *testing.T) {
	t.Parallel()

	result := Compile("notify when product stock below 10")
	if !result.Valid {
		t.Fatalf("expected valid result, got %+v", result)
	}
	rule := result.Rule
	if rule.Condition != domain.ConditionStockBelow || rule.Threshold != 10 {
		t.Fatalf("unexpected rule %+v", rule)
	}
	if rule.Priority != domain.PriorityMedium {
		t.Fatalf("unexpected priority %q", rule.Priority)
	}
	if rule.Channels[0] != domain.ChannelInApp || len(rule.Channels) != 1 {
		t.Fatalf("unexpected channels %v", rule.Channels)
	}
	if rule.ProductID != "" {
		t.Fatalf("unexpected product scope %q", rule.ProductID)
	}
	if result.Description == "" || rule.Name == "" {
		t.Fatalf("expected name and description")
	}
}

func TestCompileFailureSuggestions(t *testing.T) {
	t.Parallel()

	for _, text := range []string{"please help", "", "alert when stock below some amount"} {
		result := Compile(text)
		if result.Valid {
			t.Fatalf("%q: expected failure", text)
		}
		if len(result.Suggestions) < 2 || result.Error == "" {
			t.Fatalf("%q: expected error with suggestions, got %+v", text, result)
		}
	}
}

func TestSuggestionsCompile(t *testing.T) {
	t.Parallel()

	for _, suggestion := range Suggestions {
		if result := Compile(suggestion); !result.Valid {
			t.Fatalf("suggestion %q does not compile: %s", suggestion, result.Error)
		}
	}
}

func TestCompileTable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text      string
		condition domain.Condition
		threshold float64
		priority  domain.Priority
		channels  string
		product   string
	}{
		{"alert when stock less than 20", domain.ConditionStockBelow, 20, domain.PriorityMedium, "in-app", ""},
		{"urgent: stock under 50 for product 42, send email", domain.ConditionStockBelow, 50, domain.PriorityHigh, "in-app,email,sms", "42"},
		{"product 7 stock below 3", domain.ConditionStockBelow, 3, domain.PriorityHigh, "in-app,sms", "7"},
		{"inventory value below 10,000 notify manager", domain.ConditionInventoryValueBelow, 10000, domain.PriorityLow, "in-app,email", ""},
		{"when inventory value exceeds 50000 send a text", domain.ConditionInventoryValueAbove, 50000, domain.PriorityLow, "in-app,sms", ""},
		{"total value over 20", domain.ConditionInventoryValueAbove, 20, domain.PriorityMedium, "in-app", ""},
		{"tell me when anything is out of stock", domain.ConditionStockEquals, 0, domain.PriorityHigh, "in-app,sms", ""},
		{"stock equals 4 for product 9", domain.ConditionStockEquals, 0, domain.PriorityHigh, "in-app,sms", "9"},
		{"low priority: stock below 30 by email", domain.ConditionStockBelow, 30, domain.PriorityLow, "in-app,email", ""},
		{"critical inventory below 500", domain.ConditionInventoryValueBelow, 500, domain.PriorityHigh, "in-app,sms", ""},
	}

	for _, tc := range tests {
		result := Compile(tc.text)
		if !result.Valid {
			t.Fatalf("%q: unexpected failure %s", tc.text, result.Error)
		}
		rule := result.Rule
		if rule.Condition != tc.condition {
			t.Fatalf("%q: condition %q, want %q", tc.text, rule.Condition, tc.condition)
		}
		if rule.Threshold != tc.threshold {
			t.Fatalf("%q: threshold %v, want %v", tc.text, rule.Threshold, tc.threshold)
		}
		if rule.Priority != tc.priority {
			t.Fatalf("%q: priority %q, want %q", tc.text, rule.Priority, tc.priority)
		}
		if got := strings.Join(rule.Channels, ","); got != tc.channels {
			t.Fatalf("%q: channels %q, want %q", tc.text, got, tc.channels)
		}
		if rule.ProductID != tc.product {
			t.Fatalf("%q: product %q, want %q", tc.text, rule.ProductID, tc.product)
		}
	}
}

func TestProductNumberIsNotThreshold(t *testing.T) {
	t.Parallel()

	result := Compile("alert when product 123 stock is below 15")
	if !result.Valid || result.Rule.Threshold != 15 || result.Rule.ProductID != "123" {
		t.Fatalf("unexpected result %+v", result)
	}
	if !strings.Contains(result.Rule.Name, "Product 123") {
		t.Fatalf("unexpected name %q", result.Rule.Name)
	}
	if !strings.Contains(result.Description, "product 123") {
		t.Fatalf("unexpected description %q", result.Description)
	}
}
