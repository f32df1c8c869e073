package types

import (
	"encoding/json"
	"testing"
)

func TestMoneyConstructors(t *testing.T) {
	tests := []struct {
		name     string
		money    Money
		amount   int64
		currency string
		display  string
	}{
		{"USD", USD(4900), 4900, "usd", "$49.00"},
		{"EUR", EUR(19900), 19900, "eur", "€199.00"},
		{"TRY", TRY(14999), 14999, "try", "₺149.99"},
		{"cost per call", USD(7), 7, "usd", "$0.07"},
		{"Zero TRY", Zero("TRY"), 0, "try", "₺0.00"},
		{"negative", USD(-150), -150, "usd", "$-1.50"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.money.Amount != tt.amount {
				t.Errorf("Amount: got %d, want %d", tt.money.Amount, tt.amount)
			}
			if tt.money.Currency != tt.currency {
				t.Errorf("Currency: got %s, want %s", tt.money.Currency, tt.currency)
			}
			if tt.money.String() != tt.display {
				t.Errorf("Display: got %s, want %s", tt.money.String(), tt.display)
			}
		})
	}
}

func TestParseMajor(t *testing.T) {
	tests := []struct {
		in       string
		currency string
		want     Money
		wantErr  bool
	}{
		{"0.07", "USD", USD(7), false},
		{"149.99", "try", TRY(14999), false},
		{"10", "eur", EUR(1000), false},
		{"1.5", "try", TRY(150), false},
		{".5", "usd", USD(50), false},
		{"-2.25", "usd", USD(-225), false},
		{"1.234", "usd", Money{}, true},
		{"abc", "usd", Money{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMajor(tt.in, tt.currency)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMoneyArithmetic(t *testing.T) {
	if got := USD(7).Multiply(3); !got.Equal(USD(21)) {
		t.Errorf("Multiply: got %v", got)
	}
	if got := TRY(100).Add(TRY(250)); !got.Equal(TRY(350)) {
		t.Errorf("Add: got %v", got)
	}
	if got := Sum(USD(1), USD(2), USD(3)); !got.Equal(USD(6)) {
		t.Errorf("Sum: got %v", got)
	}
	if got := Sum(); !got.Equal(Zero("usd")) {
		t.Errorf("empty Sum: got %v", got)
	}
}

func TestMoneyCurrencyMismatch(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic on currency mismatch")
		}
	}()
	_ = USD(100).Add(TRY(100))
}

func TestMoneyValidate(t *testing.T) {
	if err := TRY(100).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := TRY(0).Validate(); err == nil {
		t.Error("expected error for zero amount")
	}
	if err := (Money{Amount: 10}).Validate(); err == nil {
		t.Error("expected error for missing currency")
	}
}

func TestMoneyJSON(t *testing.T) {
	data, err := json.Marshal(TRY(14999))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["display"] != "₺149.99" {
		t.Errorf("display: got %v", out["display"])
	}
	if out["currency"] != "try" {
		t.Errorf("currency: got %v", out["currency"])
	}
}
