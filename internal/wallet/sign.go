package wallet

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrSignatureMismatch is returned when a recovered signer is not the wallet
// that was asked to sign.
var ErrSignatureMismatch = errors.New("signature does not recover to the wallet address")

// SignMessage signs a message using EIP-191 (personal_sign).
// The message is prefixed with "\x19Ethereum Signed Message:\n<len>" before hashing.
// Returns a 65-byte signature (R || S || V).
func SignMessage(w *Wallet, ks KeystoreBackend, message []byte) ([]byte, error) {
	privKey, err := privateKey(w, ks)
	if err != nil {
		return nil, err
	}

	sig, err := crypto.Sign(eip191Hash(message), privKey)
	if err != nil {
		return nil, fmt.Errorf("signing message: %w", err)
	}

	// Adjust V from 0/1 to 27/28 for Ethereum compatibility.
	sig[64] += 27
	return sig, nil
}

// VerifyMessage recovers the signer address from an EIP-191 signature.
func VerifyMessage(message, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("invalid signature length: expected 65 bytes, got %d", len(sig))
	}
	if sig[64] != 27 && sig[64] != 28 {
		return common.Address{}, fmt.Errorf("invalid signature recovery id %d", sig[64])
	}

	recoverSig := make([]byte, 65)
	copy(recoverSig, sig)
	recoverSig[64] -= 27

	pubKey, err := crypto.SigToPub(eip191Hash(message), recoverSig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recovering signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pubKey), nil
}

// AuthMessage is the statement a wallet signs to act on a deployment.
func AuthMessage(action, deployment string, at time.Time) []byte {
	return []byte(fmt.Sprintf("w3ico authorization\naction: %s\ndeployment: %s\ntime: %s",
		action, deployment, at.UTC().Format(time.RFC3339)))
}

// Authorize proves control of w by signing an authorization statement for
// action and recovering the signer. The recovered address is returned.
func Authorize(w *Wallet, ks KeystoreBackend, action, deployment string, at time.Time) (common.Address, error) {
	msg := AuthMessage(action, deployment, at)
	sig, err := SignMessage(w, ks, msg)
	if err != nil {
		return common.Address{}, err
	}
	signer, err := VerifyMessage(msg, sig)
	if err != nil {
		return common.Address{}, err
	}
	if signer != w.Address {
		return common.Address{}, fmt.Errorf("%w: got %s", ErrSignatureMismatch, signer.Hex())
	}
	log.Debugf("authorized %s for %s on %s", signer.Hex(), action, deployment)
	return signer, nil
}

// eip191Hash returns the Keccak-256 hash of the EIP-191 prefixed message.
func eip191Hash(message []byte) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(message))
	data := append([]byte(prefix), message...)
	return crypto.Keccak256(data)
}
