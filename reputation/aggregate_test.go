package reputation

import (
	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"testing"
)

func TestAggregateAttestationsVerifies(t *testing.T) {
	const n = 5
	msg := []byte("window:12345")

	keys := make([]*AttestationKey, n)
	pubs := make([]*AttestationPublicKey, n)
	sigs := make([]bls12381.G1Affine, n)
	for i := 0; i < n; i++ {
		k, pk, err := GenerateAttestationKey()
		if err != nil {
			t.Fatalf("GenerateAttestationKey: %v", err)
		}
		keys[i], pubs[i] = k, pk
		sigs[i] = k.Sign(msg)
	}

	agg, err := AggregateAttestations(sigs)
	if err != nil {
		t.Fatalf("AggregateAttestations: %v", err)
	}

	ok, err := VerifyAggregate(agg, pubs, msg)
	if err != nil {
		t.Fatalf("VerifyAggregate: %v", err)
	}
	if !ok {
		t.Fatal("expected aggregate signature to verify")
	}
}

func TestVerifyAggregateRejectsWrongMessage(t *testing.T) {
	k, pk, err := GenerateAttestationKey()
	if err != nil {
		t.Fatalf("GenerateAttestationKey: %v", err)
	}
	sig := k.Sign([]byte("window:1"))
	ok, err := VerifyAggregate(sig, []*AttestationPublicKey{pk}, []byte("window:2"))
	if err != nil {
		t.Fatalf("VerifyAggregate: %v", err)
	}
	if ok {
		t.Fatal("expected verification against wrong message to fail")
	}
}
