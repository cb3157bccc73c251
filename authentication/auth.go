package authentication

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/Factom-Asset-Tokens/base58"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ed25519"
)

var (
	aLog = log.WithFields(log.Fields{"mod": "auth"})
)

var (
	ErrInvalidWallet    = errors.New("invalid wallet address")
	ErrInvalidSignature = errors.New("invalid signature")
)

const checksumLen = 4

// SignedMessage is the exact byte string a miner signs when
// submitting: "<wallet>:<gist_url>". Both sides must agree on this
// or every submission fails verification.
func SignedMessage(wallet, gistURL string) []byte {
	return []byte(wallet + ":" + gistURL)
}

// AddressFromPublicKey encodes a hotkey public key as a base58 wallet
// address with a 4 byte double-sha256 checksum.
func AddressFromPublicKey(pub ed25519.PublicKey) string {
	data := append([]byte{}, pub...)
	return base58.Encode(append(data, checksum(data)...))
}

// PublicKeyFromAddress is the inverse of AddressFromPublicKey.
func PublicKeyFromAddress(wallet string) (ed25519.PublicKey, error) {
	raw := base58.Decode(wallet)
	if len(raw) != ed25519.PublicKeySize+checksumLen {
		return nil, ErrInvalidWallet
	}

	body, sum := raw[:ed25519.PublicKeySize], raw[ed25519.PublicKeySize:]
	if !bytes.Equal(sum, checksum(body)) {
		return nil, ErrInvalidWallet
	}
	return ed25519.PublicKey(body), nil
}

// VerifySubmission checks the hex signature sent with a submission
// against the wallet's hotkey.
func VerifySubmission(wallet, gistURL, signatureHex string) error {
	pub, err := PublicKeyFromAddress(wallet)
	if err != nil {
		return err
	}

	sig, err := hex.DecodeString(signatureHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return ErrInvalidSignature
	}

	if !ed25519.Verify(pub, SignedMessage(wallet, gistURL), sig) {
		aLog.WithField("wallet", wallet).Debug("signature rejected")
		return ErrInvalidSignature
	}
	return nil
}

// SignSubmission produces the hex signature a miner sends. The
// harness only needs this for its own test tooling.
func SignSubmission(priv ed25519.PrivateKey, wallet, gistURL string) string {
	return fmt.Sprintf("%x", ed25519.Sign(priv, SignedMessage(wallet, gistURL)))
}

func checksum(data []byte) []byte {
	first := sha256.Sum256(data)
	second := sha256.Sum256(first[:])
	return second[:checksumLen]
}
