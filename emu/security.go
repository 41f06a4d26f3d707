// Package emu provides functional AlphaAHB/AlphaM emulation.
package emu

import (
	"crypto/aes"
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"math/big"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/sha3"

	"github.com/sarchlab/alphasim/insts"
)

// SecurityUnit implements the security opcodes. Keys live in SEC
// registers; multi-register keys are little-endian concatenations.
type SecurityUnit struct {
	coreID uint32

	stream    *chacha20.Cipher
	streamKey [chacha20.KeySize]byte
}

// NewSecurityUnit creates a security unit for the given core. The core id
// is the nonce of the secure_rand keystream.
func NewSecurityUnit(coreID int) *SecurityUnit {
	return &SecurityUnit{coreID: uint32(coreID)}
}

// KeyBytes packs SEC register values into a little-endian byte string.
func KeyBytes(regs ...uint64) []byte {
	out := make([]byte, 8*len(regs))
	for i, r := range regs {
		binary.LittleEndian.PutUint64(out[i*8:], r)
	}
	return out
}

// AES encrypts (or decrypts) the four 128-bit blocks of a vector with
// AES-128 in ECB mode.
func (u *SecurityUnit) AES(decrypt bool, v Vector, key []byte) Vector {
	block, err := aes.NewCipher(key)
	if err != nil {
		panic(err)
	}
	var out Vector
	for off := 0; off < VectorBytes; off += aes.BlockSize {
		if decrypt {
			block.Decrypt(out[off:], v[off:off+aes.BlockSize])
		} else {
			block.Encrypt(out[off:], v[off:off+aes.BlockSize])
		}
	}
	return out
}

// KeyGen derives a 128-bit key from a seed, returned as two SEC values.
func (u *SecurityUnit) KeyGen(seed uint64) (lo, hi uint64) {
	sum := sha256.Sum256(KeyBytes(seed))
	return binary.LittleEndian.Uint64(sum[0:]), binary.LittleEndian.Uint64(sum[8:])
}

// Hash digests the 64 bytes of v. The digest is zero-padded to a vector.
func (u *SecurityUnit) Hash(op insts.Op, v Vector) Vector {
	var out Vector
	switch op {
	case insts.OpSHA256:
		sum := sha256.Sum256(v[:])
		copy(out[:], sum[:])
	case insts.OpSHA512:
		sum := sha512.Sum512(v[:])
		copy(out[:], sum[:])
	case insts.OpSHA3:
		sum := sha3.Sum512(v[:])
		copy(out[:], sum[:])
	case insts.OpSECUREHASH:
		sum := blake2b.Sum512(v[:])
		copy(out[:], sum[:])
	}
	return out
}

// ModExp computes x^e mod m. A zero modulus gives zero.
func (u *SecurityUnit) ModExp(x, e, m uint64) uint64 {
	if m == 0 {
		return 0
	}
	bx := new(big.Int).SetUint64(x)
	be := new(big.Int).SetUint64(e)
	bm := new(big.Int).SetUint64(m)
	return bx.Exp(bx, be, bm).Uint64()
}

// Sign signs the 64-byte message with the Ed25519 key derived from seed.
func (u *SecurityUnit) Sign(msg Vector, seed []byte) Vector {
	sig := ed25519.Sign(ed25519.NewKeyFromSeed(seed), msg[:])
	var out Vector
	copy(out[:], sig)
	return out
}

// Verify checks an Ed25519 signature against the key derived from seed.
func (u *SecurityUnit) Verify(sig, msg Vector, seed []byte) bool {
	pub := ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey)
	return ed25519.Verify(pub, msg[:], sig[:])
}

// Rand returns the next 64 bits of the ChaCha20 keystream for key. The
// stream restarts whenever the key changes.
func (u *SecurityUnit) Rand(key []byte) uint64 {
	if u.stream == nil || string(u.streamKey[:]) != string(key) {
		var nonce [chacha20.NonceSize]byte
		binary.LittleEndian.PutUint32(nonce[:], u.coreID)
		c, err := chacha20.NewUnauthenticatedCipher(key, nonce[:])
		if err != nil {
			panic(err)
		}
		u.stream = c
		copy(u.streamKey[:], key)
	}
	var buf [8]byte
	u.stream.XORKeyStream(buf[:], buf[:])
	return binary.LittleEndian.Uint64(buf[:])
}
