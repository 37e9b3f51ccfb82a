package spake2p

import (
	"crypto/elliptic"
	"io"
	"math/big"
)

// curve is the P-256 group every SPAKE2+ operation runs over.
var curve = elliptic.P256()

// affinePoint is a point on curve in affine coordinates.
type affinePoint struct {
	x, y *big.Int
}

// generatorM and generatorN are the fixed SPAKE2+ generator points for
// P-256 (RFC 9383 §4 / Matter §3.10). The prover blinds its share with
// M, the verifier with N, so a passive eavesdropper who only sees the
// shares cannot compute w0 without solving discrete log.
var (
	generatorMBytes = []byte{
		0x04, 0x88, 0x6e, 0x2f, 0x97, 0xac, 0xe4, 0x6e, 0x55, 0xba, 0x9d, 0xd7, 0x24, 0x25, 0x79, 0xf2, 0x99,
		0x3b, 0x64, 0xe1, 0x6e, 0xf3, 0xdc, 0xab, 0x95, 0xaf, 0xd4, 0x97, 0x33, 0x3d, 0x8f, 0xa1, 0x2f, 0x5f,
		0xf3, 0x55, 0x16, 0x3e, 0x43, 0xce, 0x22, 0x4e, 0x0b, 0x0e, 0x65, 0xff, 0x02, 0xac, 0x8e, 0x5c, 0x7b,
		0xe0, 0x94, 0x19, 0xc7, 0x85, 0xe0, 0xca, 0x54, 0x7d, 0x55, 0xa1, 0x2e, 0x2d, 0x20,
	}
	generatorNBytes = []byte{
		0x04, 0xd8, 0xbb, 0xd6, 0xc6, 0x39, 0xc6, 0x29, 0x37, 0xb0, 0x4d, 0x99, 0x7f, 0x38, 0xc3, 0x77, 0x07,
		0x19, 0xc6, 0x29, 0xd7, 0x01, 0x4d, 0x49, 0xa2, 0x4b, 0x4f, 0x98, 0xba, 0xa1, 0x29, 0x2b, 0x49, 0x07,
		0xd6, 0x0a, 0xa6, 0xbf, 0xad, 0xe4, 0x50, 0x08, 0xa6, 0x36, 0x33, 0x7f, 0x51, 0x68, 0xc6, 0x4d, 0x9b,
		0xd3, 0x60, 0x34, 0x80, 0x8c, 0xd5, 0x64, 0x49, 0x0b, 0x1e, 0x65, 0x6e, 0xdb, 0xe7,
	}

	generatorM = mustParsePoint(generatorMBytes)
	generatorN = mustParsePoint(generatorNBytes)
)

func mustParsePoint(data []byte) *affinePoint {
	p, err := parsePoint(data)
	if err != nil {
		panic(err)
	}
	return p
}

// parsePoint decodes an uncompressed point (0x04 || X || Y) and rejects
// anything not actually on curve.
func parsePoint(data []byte) (*affinePoint, error) {
	if len(data) != PointSizeBytes {
		return nil, ErrInvalidShareSize
	}
	if data[0] != 0x04 {
		return nil, ErrInvalidPointOnCurve
	}
	x := new(big.Int).SetBytes(data[1:33])
	y := new(big.Int).SetBytes(data[33:65])
	if !curve.IsOnCurve(x, y) {
		return nil, ErrInvalidPointOnCurve
	}
	return &affinePoint{x: x, y: y}, nil
}

// serialize encodes p in uncompressed form.
func serialize(p *affinePoint) []byte {
	out := make([]byte, PointSizeBytes)
	out[0] = 0x04
	p.x.FillBytes(out[1:33])
	p.y.FillBytes(out[33:65])
	return out
}

func mulPoint(p *affinePoint, k *big.Int) *affinePoint {
	x, y := curve.ScalarMult(p.x, p.y, k.Bytes())
	return &affinePoint{x: x, y: y}
}

func addPoints(a, b *affinePoint) *affinePoint {
	x, y := curve.Add(a.x, a.y, b.x, b.y)
	return &affinePoint{x: x, y: y}
}

// subPoints computes a - b by negating b's y-coordinate mod the field
// prime and adding.
func subPoints(a, b *affinePoint) *affinePoint {
	negY := new(big.Int).Neg(b.y)
	negY.Mod(negY, curve.Params().P)
	x, y := curve.Add(a.x, a.y, b.x, negY)
	return &affinePoint{x: x, y: y}
}

// blindedShare computes random*G + blind*generator — the public share
// either SPAKE2+ party sends: a point masked by the shared password
// scalar so it reveals nothing about random without solving the
// discrete log problem against generator.
func blindedShare(random, blind *big.Int, generator *affinePoint) *affinePoint {
	gx, gy := curve.ScalarBaseMult(random.Bytes())
	randomG := &affinePoint{x: gx, y: gy}
	blindTerm := mulPoint(generator, blind)
	return addPoints(randomG, blindTerm)
}

// randomScalar draws a uniform nonzero scalar in [1, n) from r, where n
// is the group order — rejecting anything outside that range rather
// than reducing mod n, to avoid biasing the distribution.
func randomScalar(r io.Reader) (*big.Int, error) {
	order := curve.Params().N
	buf := make([]byte, GroupSizeBytes)
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		k := new(big.Int).SetBytes(buf)
		if k.Sign() > 0 && k.Cmp(order) < 0 {
			return k, nil
		}
	}
}
