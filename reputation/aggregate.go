package reputation

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"
	"sync"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
)

// AttestationDomain separates heartbeat-attestation signatures from any
// other BLS signing this node might do.
const AttestationDomain = "TIMECHAIN_HEARTBEAT_ATTESTATION_V1"

var (
	blsInitOnce sync.Once
	g1Gen       bls12381.G1Affine
	g2Gen       bls12381.G2Affine
)

func initBLS() {
	blsInitOnce.Do(func() {
		_, _, g1, g2 := bls12381.Generators()
		g1Gen, g2Gen = g1, g2
	})
}

// AttestationKey is a BLS12-381 key pair used to sign per-window heartbeat
// attestations so many can be combined into one aggregate signature.
type AttestationKey struct {
	scalar fr.Element
}

// AttestationPublicKey is the G2 public counterpart of an AttestationKey.
type AttestationPublicKey struct {
	point bls12381.G2Affine
}

// Attestation is a single participant's signed claim for one finality
// window, prior to aggregation.
type Attestation struct {
	PublicKey *AttestationPublicKey
	Signature bls12381.G1Affine
}

// GenerateAttestationKey creates a new random BLS key pair.
func GenerateAttestationKey() (*AttestationKey, *AttestationPublicKey, error) {
	initBLS()
	var sk fr.Element
	if _, err := sk.SetRandom(); err != nil {
		return nil, nil, fmt.Errorf("generate bls scalar: %w", err)
	}
	k := &AttestationKey{scalar: sk}
	return k, k.PublicKey(), nil
}

// PublicKey derives the public key for k.
func (k *AttestationKey) PublicKey() *AttestationPublicKey {
	initBLS()
	var pk bls12381.G2Affine
	var skBig big.Int
	k.scalar.BigInt(&skBig)
	pk.ScalarMultiplication(&g2Gen, &skBig)
	return &AttestationPublicKey{point: pk}
}

// Sign signs windowMessage (the finality-window reference plus the
// attestation's embedded proof material) and returns a G1 signature point.
func (k *AttestationKey) Sign(windowMessage []byte) bls12381.G1Affine {
	initBLS()
	h := hashToG1(domainMessage(windowMessage))
	var sig bls12381.G1Affine
	var skBig big.Int
	k.scalar.BigInt(&skBig)
	sig.ScalarMultiplication(&h, &skBig)
	return sig
}

// AggregateAttestations combines signatures from many participants over the
// same window message into a single aggregate signature, so checkpoint size
// does not grow with participant count.
func AggregateAttestations(sigs []bls12381.G1Affine) (bls12381.G1Affine, error) {
	initBLS()
	if len(sigs) == 0 {
		return bls12381.G1Affine{}, errors.New("reputation: no attestations to aggregate")
	}
	var agg bls12381.G1Jac
	agg.FromAffine(&sigs[0])
	for i := 1; i < len(sigs); i++ {
		var jac bls12381.G1Jac
		jac.FromAffine(&sigs[i])
		agg.AddAssign(&jac)
	}
	var result bls12381.G1Affine
	result.FromJacobian(&agg)
	return result, nil
}

// aggregatePublicKeys sums G2 public keys, used only when verifying against
// a single shared message (all attesters signing the same window).
func aggregatePublicKeys(keys []*AttestationPublicKey) (bls12381.G2Affine, error) {
	initBLS()
	if len(keys) == 0 {
		return bls12381.G2Affine{}, errors.New("reputation: no public keys to aggregate")
	}
	var agg bls12381.G2Jac
	agg.FromAffine(&keys[0].point)
	for i := 1; i < len(keys); i++ {
		var jac bls12381.G2Jac
		jac.FromAffine(&keys[i].point)
		agg.AddAssign(&jac)
	}
	var result bls12381.G2Affine
	result.FromJacobian(&agg)
	return result, nil
}

// VerifyAggregate checks an aggregate signature over windowMessage against
// the set of public keys believed to have contributed to it.
func VerifyAggregate(aggSig bls12381.G1Affine, keys []*AttestationPublicKey, windowMessage []byte) (bool, error) {
	initBLS()
	aggPk, err := aggregatePublicKeys(keys)
	if err != nil {
		return false, err
	}
	h := hashToG1(domainMessage(windowMessage))

	var negPk bls12381.G2Affine
	negPk.Neg(&aggPk)

	ok, err := bls12381.PairingCheck(
		[]bls12381.G1Affine{aggSig, h},
		[]bls12381.G2Affine{g2Gen, negPk},
	)
	if err != nil {
		return false, fmt.Errorf("pairing check: %w", err)
	}
	return ok, nil
}

func domainMessage(msg []byte) []byte {
	h := sha256.New()
	h.Write([]byte(AttestationDomain))
	h.Write(msg)
	return h.Sum(nil)
}

// hashToG1 hashes msg to a point on G1, following the same hash-and-pray
// construction as the pack's BLS reference implementation.
func hashToG1(msg []byte) bls12381.G1Affine {
	h := sha256.Sum256(msg)
	var point bls12381.G1Affine
	if _, err := point.SetBytes(h[:]); err == nil && !point.IsInfinity() {
		return point
	}
	var scalar fr.Element
	scalar.SetBytes(h[:])
	var scalarBig big.Int
	scalar.BigInt(&scalarBig)
	var result bls12381.G1Affine
	result.ScalarMultiplication(&g1Gen, &scalarBig)
	return result
}
