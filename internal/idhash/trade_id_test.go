package idhash

import "testing"

func TestComputeTradeID(t *testing.T) {
	a := ComputeTradeID("mintA", "walletA", "sig1")
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
	if a != ComputeTradeID("mintA", "walletA", "sig1") {
		t.Error("trade id must be deterministic")
	}

	tests := []struct {
		name              string
		mint, wallet, sig string
	}{
		{"different mint", "mintB", "walletA", "sig1"},
		{"different wallet", "mintA", "walletB", "sig1"},
		{"different signature", "mintA", "walletA", "sig2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if ComputeTradeID(tt.mint, tt.wallet, tt.sig) == a {
				t.Errorf("expected distinct id")
			}
		})
	}
}

func TestComputeSignalKey(t *testing.T) {
	k := ComputeSignalKey("sig", "mint")
	if len(k) != 32 {
		t.Fatalf("expected 32 hex chars, got %d", len(k))
	}
	if k == ComputeSignalKey("sig", "mint2") {
		t.Error("expected distinct keys per mint")
	}
}
