package textnorm

import "testing"

func TestPreprocess(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"lend 1,000,000 USDC", "lend 1000000 USDC"},
		{"swap $100 for ETH", "swap 100 USD for ETH"},
		{"deposit €2.5k", "deposit 2500 EUR"},
		{"lend 1k usdc", "lend 1000 usdc"},
		{"borrow 2.5M DAI", "borrow 2500000 DAI"},
		{"stake 0.5b", "stake 500000000"},
		{"stake 1.23456k", "stake 1234.56"},
		{"open 10x long on ETH", "open 10x long on ETH"},
		{"  lend   50%  of my   USDC ", "lend 50% of my USDC"},
		{"send to 0x5b38Da6a701c568545dCfcB03FcB875f56beddC4", "send to 0x5b38Da6a701c568545dCfcB03FcB875f56beddC4"},
		{"swap on 1inch", "swap on 1inch"},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got := Preprocess(tc.in)
			if got != tc.want {
				t.Fatalf("Preprocess(%q) = %q, want %q", tc.in, got, tc.want)
			}
			if again := Preprocess(got); again != got {
				t.Fatalf("preprocess not idempotent: %q -> %q", got, again)
			}
		})
	}
}

func TestIsQuestion(t *testing.T) {
	if !IsQuestion("what is the USDC rate") {
		t.Fatalf("expected question")
	}
	if !IsQuestion("USDC rates?") {
		t.Fatalf("expected trailing question mark to count")
	}
	if IsQuestion("lend 1000 USDC") {
		t.Fatalf("unexpected question")
	}
}

func TestWords(t *testing.T) {
	got := Words("Show my Aave positions, please!")
	want := []string{"show", "my", "aave", "positions", "please"}
	if len(got) != len(want) {
		t.Fatalf("unexpected words %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("word %d = %q, want %q", i, got[i], want[i])
		}
	}
	if FirstWord("  ") != "" {
		t.Fatalf("expected empty first word")
	}
}
