package db

import (
	"math/big"

	"github.com/google/uuid"
)

// Player keys and AI secrets are 10-character base-62 strings drawn
// from a uniformly random 128-bit source. 62^10 is a little over 8e17,
// so collisions among the handful of keys minted per game are
// vanishingly unlikely, but inserts still surface a unique violation if
// one ever occurs.
const keyLength = 10

const keyAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

var keyBase = big.NewInt(int64(len(keyAlphabet)))

// newKey generates a fresh player key or AI secret.
func newKey() string {
	u := uuid.New()
	n := new(big.Int).SetBytes(u[:])
	rem := new(big.Int)
	buf := make([]byte, keyLength)
	for i := range buf {
		n.DivMod(n, keyBase, rem)
		buf[i] = keyAlphabet[rem.Int64()]
	}
	return string(buf)
}
