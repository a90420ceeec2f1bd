package envelope

import (
	"crypto/ed25519"
	"encoding/hex"
)

// Ed25519Verifier verifies batch signatures made with ed25519 keys.
// Public keys and signatures are hex encoded on the wire.
type Ed25519Verifier struct{}

func (Ed25519Verifier) Verify(publicKey string, message []byte, signature string) bool {
	pub, err := hex.DecodeString(publicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := hex.DecodeString(signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), message, sig)
}
