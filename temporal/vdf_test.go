package temporal

import "testing"

func TestProveVerifyRoundTrip(t *testing.T) {
	input := []byte("window-seed-0")
	output, proof, err := Prove(input, 5000, 100)
	if err != nil {
		t.Fatalf("Prove: %v", err)
	}
	if proof.Iterations != 5000 {
		t.Fatalf("proof.Iterations = %d, want 5000", proof.Iterations)
	}
	if len(proof.Checkpoints) != 50 {
		t.Fatalf("got %d checkpoints, want 50 (5000/100)", len(proof.Checkpoints))
	}

	ok, err := Verify(input, output, 5000, proof, 10)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatal("valid proof failed verification")
	}
}

func TestProveDefaultsIntervalWhenZero(t *testing.T) {
	_, proof, err := Prove([]byte("seed"), 2000, 0)
	if err != nil {
		t.Fatal(err)
	}
	if proof.Interval != 2 { // 2000 / checkpointDivisor(1000) = 2
		t.Fatalf("got interval %d, want 2", proof.Interval)
	}
}

func TestProveRejectsZeroIterations(t *testing.T) {
	if _, _, err := Prove([]byte("seed"), 0, 10); err == nil {
		t.Fatal("expected error for zero iterations")
	}
}

func TestProveHandlesNonDivisibleIterationsWithFinalShortSegment(t *testing.T) {
	input := []byte("uneven")
	output, proof, err := Prove(input, 1037, 100)
	if err != nil {
		t.Fatal(err)
	}
	// 1037/100 = 10 full checkpoints plus one extra for the final partial iteration.
	if len(proof.Checkpoints) != 11 {
		t.Fatalf("got %d checkpoints, want 11", len(proof.Checkpoints))
	}
	ok, err := Verify(input, output, 1037, proof, 11)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatal("valid proof with a short final segment failed verification")
	}
}

func TestVerifyRejectsTamperedCheckpoint(t *testing.T) {
	input := []byte("tamper-me")
	output, proof, err := Prove(input, 3000, 100)
	if err != nil {
		t.Fatal(err)
	}
	proof.Checkpoints[5] = append([]byte{}, proof.Checkpoints[5]...)
	proof.Checkpoints[5][0] ^= 0xFF

	ok, err := Verify(input, output, 3000, proof, 30) // sample every segment
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Fatal("tampered checkpoint should fail verification")
	}
}

func TestVerifyRejectsIterationCountMismatch(t *testing.T) {
	input := []byte("mismatch")
	output, proof, err := Prove(input, 1000, 100)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Verify(input, output, 999, proof, 5); err == nil {
		t.Fatal("expected error for declared iteration count mismatch")
	}
}

func TestVerifyRejectsOutputNotMatchingFinalCheckpoint(t *testing.T) {
	input := []byte("bad-output")
	_, proof, err := Prove(input, 1000, 100)
	if err != nil {
		t.Fatal(err)
	}
	wrongOutput := make([]byte, len(proof.Output))
	copy(wrongOutput, proof.Output)
	wrongOutput[0] ^= 0xFF

	if _, err := Verify(input, wrongOutput, 1000, proof, 5); err == nil {
		t.Fatal("expected error when declared output does not match final checkpoint")
	}
}

func TestVerifyRejectsNilProof(t *testing.T) {
	if _, err := Verify([]byte("x"), []byte("y"), 10, nil, 5); err == nil {
		t.Fatal("expected error for nil proof")
	}
}

func TestWindowSeedIsDeterministicAndWindowSensitive(t *testing.T) {
	a := WindowSeed("checkpoint-hash-abc", 7)
	b := WindowSeed("checkpoint-hash-abc", 7)
	c := WindowSeed("checkpoint-hash-abc", 8)
	d := WindowSeed("checkpoint-hash-xyz", 7)

	if string(a) != string(b) {
		t.Fatal("WindowSeed is not deterministic")
	}
	if string(a) == string(c) {
		t.Fatal("WindowSeed should differ across windows")
	}
	if string(a) == string(d) {
		t.Fatal("WindowSeed should differ across checkpoint hashes")
	}
}
