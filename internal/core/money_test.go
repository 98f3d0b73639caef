package core

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"-45.23", "-45.23", true},
		{"45.23", "45.23", true},
		{"$1,234.50", "1234.50", true},
		{"(12.00)", "-12.00", true},
		{"12.00 DR", "-12.00", true},
		{"12.00 CR", "12.00", true},
		{"-0.005", "-0.01", true},
		{"", "", false},
		{"abc", "", false},
		{"$", "", false},
		{"12.3.4", "", false},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if !tc.ok {
			if err == nil {
				t.Fatalf("ParseAmount(%q) expected error, got %s", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseAmount(%q) unexpected error: %v", tc.in, err)
		}
		if AmountKey(got) != tc.want {
			t.Fatalf("ParseAmount(%q) = %s, want %s", tc.in, AmountKey(got), tc.want)
		}
	}
}

func TestNormalizeDirection(t *testing.T) {
	pos := decimal.RequireFromString("10.50")
	neg := pos.Neg()
	cases := []struct {
		kind TransactionKind
		in   decimal.Decimal
		want string
	}{
		{KindExpense, pos, "-10.50"},
		{KindExpense, neg, "-10.50"},
		{KindFee, pos, "-10.50"},
		{KindIncome, neg, "10.50"},
		{KindInterest, neg, "10.50"},
		{KindPayment, pos, "10.50"},
		{KindTransfer, neg, "-10.50"},
	}
	for _, tc := range cases {
		if got := AmountKey(NormalizeDirection(tc.kind, tc.in)); got != tc.want {
			t.Fatalf("%s %s: got %s want %s", tc.kind, tc.in, got, tc.want)
		}
	}
}

func TestRecordValidate(t *testing.T) {
	good := Record{Date: "2024-12-01", Amount: "45.23", Merchant: "WHOLEFDS MKTPL #12345", Kind: "expense"}
	vr, verr := good.Validate(0)
	if verr != nil {
		t.Fatalf("expected ok, got %v", verr)
	}
	if AmountKey(vr.Amount) != "-45.23" {
		t.Fatalf("expense must be negative, got %s", vr.Amount)
	}
	if vr.MerchantNormalized != "Wholefds Mktpl" {
		t.Fatalf("unexpected normalized merchant %q", vr.MerchantNormalized)
	}
	if vr.Key() != "2024-12-01|-45.23|WHOLEFDS MKTPL #12345" {
		t.Fatalf("unexpected key %q", vr.Key())
	}

	inferred, verr := Record{Date: "2024-12-02", Amount: "1500", Merchant: "ACME PAYROLL"}.Validate(1)
	if verr != nil || inferred.Kind != KindIncome {
		t.Fatalf("positive amount without kind should infer income, got %v %v", inferred.Kind, verr)
	}

	bad := []struct {
		rec   Record
		field string
	}{
		{Record{Date: "2024-12-01", Amount: "1"}, "merchant"},
		{Record{Date: "someday", Amount: "1", Merchant: "X"}, "date"},
		{Record{Date: "2024-12-01", Amount: "one", Merchant: "X"}, "amount"},
		{Record{Date: "2024-12-01", PostDate: "nope", Amount: "1", Merchant: "X"}, "post_date"},
		{Record{Date: "2024-12-01", Amount: "1", Merchant: "X", Kind: "refund"}, "kind"},
	}
	for i, tc := range bad {
		_, verr := tc.rec.Validate(i)
		if verr == nil {
			t.Fatalf("case %d expected validation error", i)
		}
		if verr.Field != tc.field || verr.Index != i {
			t.Fatalf("case %d: got field %s index %d", i, verr.Field, verr.Index)
		}
	}
}

func TestSuggestPattern(t *testing.T) {
	cases := map[string]string{
		"WHOLEFDS MKTPL #12345": "WHOLEFDS MKTPL*",
		"netflix.com":           "NETFLIX.COM*",
		"  ":                    "",
	}
	for in, want := range cases {
		if got := SuggestPattern(in); got != want {
			t.Fatalf("SuggestPattern(%q) = %q, want %q", in, got, want)
		}
	}
}
