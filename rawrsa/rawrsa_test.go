package rawrsa

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	keyOnce sync.Once
	testKey *rsa.PrivateKey
)

func key(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	keyOnce.Do(func() {
		k, err := rsa.GenerateKey(rand.Reader, 1024)
		if err != nil {
			panic(err)
		}
		testKey = k
	})
	return testKey
}

func digest(s string) []byte {
	sum := sha256.Sum256([]byte(s))
	return sum[:]
}

func TestPadLayout(t *testing.T) {
	d := digest("hello")
	em, err := Pad(d, 128)
	require.NoError(t, err)
	assert.Len(t, em, 128)
	assert.Equal(t, byte(0x00), em[0])
	assert.Equal(t, byte(0x01), em[1])
	ffLen := 128 - len(d) - 3
	for i := 2; i < 2+ffLen; i++ {
		assert.Equal(t, byte(0xff), em[i], "byte %d", i)
	}
	assert.Equal(t, byte(0x00), em[2+ffLen])
	assert.Equal(t, d, em[3+ffLen:])
}

func TestPadTooShort(t *testing.T) {
	_, err := Pad(make([]byte, 32), 35)
	assert.ErrorIs(t, err, ErrMessageTooLong)
	_, err = Pad(make([]byte, 32), 36)
	assert.NoError(t, err)
}

func TestSignVerify(t *testing.T) {
	k := key(t)
	d := digest("consensus")
	sig, err := Sign(k, d)
	require.NoError(t, err)
	assert.Len(t, sig, k.Size())
	assert.True(t, Verify(&k.PublicKey, d, sig))
	assert.True(t, Legacy{}.Verify(&k.PublicKey, d, sig))
}

func TestSignDeterministic(t *testing.T) {
	k := key(t)
	d := digest("same input")
	a, err := Sign(k, d)
	require.NoError(t, err)
	b, err := Legacy{}.Sign(k, d)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

// Signing the bare digest with crypto/rsa and no hash OID yields the same block.
func TestMatchesUnprefixedPKCS1(t *testing.T) {
	k := key(t)
	d := digest("interop")
	ours, err := Sign(k, d)
	require.NoError(t, err)
	theirs, err := rsa.SignPKCS1v15(nil, k, crypto.Hash(0), d)
	require.NoError(t, err)
	assert.Equal(t, theirs, ours)
}

func TestVerifyRejects(t *testing.T) {
	k := key(t)
	d := digest("consensus")
	sig, err := Sign(k, d)
	require.NoError(t, err)

	assert.False(t, Verify(&k.PublicKey, digest("other"), sig), "wrong digest")

	tampered := append([]byte(nil), sig...)
	tampered[10] ^= 0x01
	assert.False(t, Verify(&k.PublicKey, d, tampered), "tampered signature")

	assert.False(t, Verify(&k.PublicKey, d, nil), "empty signature")
	assert.False(t, Verify(&k.PublicKey, d, append(sig, 0x00)), "oversized signature")
	assert.False(t, Verify(nil, d, sig), "nil key")

	other, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	assert.False(t, Verify(&other.PublicKey, d, sig), "wrong key")
}

// A block with a DigestInfo-free layout but a broken padding byte must not verify.
func TestVerifyRejectsBadPadding(t *testing.T) {
	k := key(t)
	d := digest("padding")
	em, err := Pad(d, k.Size())
	require.NoError(t, err)

	for _, idx := range []int{1, 2, k.Size() - len(d) - 1} {
		bad := append([]byte(nil), em...)
		bad[idx] = 0x02
		m := new(big.Int).SetBytes(bad)
		sig := new(big.Int).Exp(m, k.D, k.N).FillBytes(make([]byte, k.Size()))
		assert.False(t, Verify(&k.PublicKey, d, sig), "corrupted byte %d", idx)
	}
}

func TestRecoverOutOfRange(t *testing.T) {
	k := key(t)
	tooBig := k.N.Bytes()
	_, err := Recover(&k.PublicKey, tooBig)
	assert.ErrorIs(t, err, ErrOutOfRange)
}
