package crypto

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func unhex(t testing.TB, s string) []byte {
	t.Helper()
	if s == "" {
		return nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex %q: %v", s, err)
	}
	return b
}

// RFC 5869 appendix A, SHA-256 cases 1-3. Each vector pins the PRK
// (extract), the OKM (expand), and the combined call.
var hkdfVectors = []struct {
	name                       string
	ikm, salt, info, prk, okm string
	length                     int
}{
	{
		name:   "rfc5869 case 1",
		ikm:    "0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b",
		salt:   "000102030405060708090a0b0c",
		info:   "f0f1f2f3f4f5f6f7f8f9",
		length: 42,
		prk:    "077709362c2e32df0ddc3f0dc47bba6390b6c73bb50f9c3122ec844ad7c2b3e5",
		okm:    "3cb25f25faacd57a90434f64d0362f2a2d2d0a90cf1a5a4c5db02d56ecc4c5bf34007208d5b887185865",
	},
	{
		name:   "rfc5869 case 2",
		ikm:    "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f202122232425262728292a2b2c2d2e2f303132333435363738393a3b3c3d3e3f404142434445464748494a4b4c4d4e4f",
		salt:   "606162636465666768696a6b6c6d6e6f707172737475767778797a7b7c7d7e7f808182838485868788898a8b8c8d8e8f909192939495969798999a9b9c9d9e9fa0a1a2a3a4a5a6a7a8a9aaabacadaeaf",
		info:   "b0b1b2b3b4b5b6b7b8b9babbbcbdbebfc0c1c2c3c4c5c6c7c8c9cacbcccdcecfd0d1d2d3d4d5d6d7d8d9dadbdcdddedfe0e1e2e3e4e5e6e7e8e9eaebecedeeeff0f1f2f3f4f5f6f7f8f9fafbfcfdfeff",
		length: 82,
		prk:    "06a6b88c5853361a06104c9ceb35b45cef760014904671014a193f40c15fc244",
		okm:    "b11e398dc80327a1c8e7f78c596a49344f012eda2d4efad8a050cc4c19afa97c59045a99cac7827271cb41c65e590e09da3275600c2f09b8367793a9aca3db71cc30c58179ec3e87c14c01d5c1f3434f1d87",
	},
	{
		name:   "rfc5869 case 3 (empty salt and info)",
		ikm:    "0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b",
		length: 42,
		prk:    "19ef24a32c717b167f33a91d6f648bdf96596776afdb6377ac434c1c293ccb04",
		okm:    "8da4e775a563c18f715f802a063c5a31b8a11f5c5ee1879ec3454e5f3c738d2d9d201395faa4b61a96c8",
	},
}

func TestHKDFSHA256Vectors(t *testing.T) {
	for _, tc := range hkdfVectors {
		t.Run(tc.name, func(t *testing.T) {
			ikm, salt, info := unhex(t, tc.ikm), unhex(t, tc.salt), unhex(t, tc.info)
			prk, okm := unhex(t, tc.prk), unhex(t, tc.okm)

			if got := HKDFExtractSHA256(ikm, salt); !bytes.Equal(got, prk) {
				t.Errorf("extract:\ngot  %x\nwant %x", got, prk)
			}

			got, err := HKDFExpandSHA256(prk, info, tc.length)
			if err != nil {
				t.Fatalf("expand: %v", err)
			}
			if !bytes.Equal(got, okm) {
				t.Errorf("expand:\ngot  %x\nwant %x", got, okm)
			}

			got, err = HKDFSHA256(ikm, salt, info, tc.length)
			if err != nil {
				t.Fatalf("combined: %v", err)
			}
			if !bytes.Equal(got, okm) {
				t.Errorf("combined:\ngot  %x\nwant %x", got, okm)
			}
		})
	}
}

// PBKDF2-HMAC-SHA256 vectors: two from draft-josefsson-scrypt-kdf-00,
// one degenerate, and the SPAKE2+ expansion shape Matter actually uses.
func TestPBKDF2SHA256Vectors(t *testing.T) {
	cases := []struct {
		name       string
		password   []byte
		salt       []byte
		iterations int
		keyLen     int
		want       string
	}{
		{
			"scrypt draft case 1",
			[]byte("passwd"), []byte("salt"), 1, 64,
			"55ac046e56e3089fec1691c22544b605f94185216dde0465e68b9d57c20dacbc49ca9cccf179b645991664b39d77ef317c71b845b1e30bd509112041d3a19783",
		},
		{
			"scrypt draft case 2",
			[]byte("Password"), []byte("NaCl"), 80000, 64,
			"4ddcd8f60b98be21830cee5ef22701f9641a4418d04c0414aeff08876b34ab56a1d425a1225833549adb841b51c9b3176a272bdebba1d078478f62b397f33c8d",
		},
		{
			"empty password",
			nil, []byte("salt"), 1000, 32,
			"94fb56af3ea22e5d3ed1b054085b136ca301b75d8b406c802c489479f27387c6",
		},
		{
			"matter pase 80-byte expansion",
			[]byte("20202021"), []byte("SPAKE2P Key Salt"), 1000, 80,
			"5b6f336d4670bea5bbc456e52012858206dbf7e802730dbbf765c022728f1dc6f331d89210a81f6dfc5e26fc7a09865beb3c454fe2e9f34813bfff8bf56ee35f673058b1f31fdaffbda4c1223dd32457",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := PBKDF2SHA256(tc.password, tc.salt, tc.iterations, tc.keyLen)
			if want := unhex(t, tc.want); !bytes.Equal(got, want) {
				t.Errorf("derived key:\ngot  %x\nwant %x", got, want)
			}
		})
	}
}

func TestPBKDF2Bounds(t *testing.T) {
	if PBKDF2IterationsMin != 1000 || PBKDF2IterationsMax != 100000 {
		t.Errorf("iteration bounds = [%d, %d], want [1000, 100000]",
			PBKDF2IterationsMin, PBKDF2IterationsMax)
	}
}

// One 48-byte expansion splits into three distinct keys (spec 3.8).
func TestHKDFKeySplit(t *testing.T) {
	okm, err := HKDFSHA256([]byte("input key material for testing"), []byte("salt value"), []byte("application info"), 48)
	if err != nil {
		t.Fatalf("HKDFSHA256: %v", err)
	}
	if len(okm) != 48 {
		t.Fatalf("okm length = %d, want 48", len(okm))
	}
	k1, k2, k3 := okm[0:16], okm[16:32], okm[32:48]
	if bytes.Equal(k1, k2) || bytes.Equal(k2, k3) || bytes.Equal(k1, k3) {
		t.Error("split keys collide")
	}
}

func BenchmarkHKDFSHA256(b *testing.B) {
	ikm := make([]byte, 32)
	salt := make([]byte, 32)
	info := make([]byte, 32)
	for i := range ikm {
		ikm[i] = byte(i)
		salt[i] = byte(i + 32)
		info[i] = byte(i + 64)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = HKDFSHA256(ikm, salt, info, 32)
	}
}

func BenchmarkPBKDF2SHA256(b *testing.B) {
	for i := 0; i < b.N; i++ {
		PBKDF2SHA256([]byte("password"), []byte("salt1234salt1234"), 1000, 32)
	}
}
