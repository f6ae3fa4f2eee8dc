package keys

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"
	"github.com/tyler-smith/go-bip39"
	"github.com/zeebo/blake3"
)

var ErrInvalidAddress = errors.New("invalid address")

// WalletKey holds the wallet's spend key pair.
type WalletKey struct {
	key *secp256k1.PrivateKey
}

// GenerateWalletKey creates a new random wallet key.
func GenerateWalletKey() (*WalletKey, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &WalletKey{key: key}, nil
}

// WalletKeyFromSeedWords derives the wallet key from a BIP-39 mnemonic. The
// seed words are an opaque input token here, recovery drives the rest.
func WalletKeyFromSeedWords(mnemonic, passphrase string) (*WalletKey, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("invalid seed words")
	}
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, passphrase)
	if err != nil {
		return nil, fmt.Errorf("derive seed: %w", err)
	}
	digest := blake3.Sum256(seed)
	key := secp256k1.PrivKeyFromBytes(digest[:])
	return &WalletKey{key: key}, nil
}

// PublicKeyHex returns the wallet's compressed public key as hex, the
// wallet's address on the network.
func (k *WalletKey) PublicKeyHex() string {
	return hex.EncodeToString(k.key.PubKey().SerializeCompressed())
}

// SignMessage produces a hex Schnorr signature over the blake3 digest of the
// message.
func (k *WalletKey) SignMessage(message string) (string, error) {
	digest := blake3.Sum256([]byte(message))
	sig, err := schnorr.Sign(k.key, digest[:])
	if err != nil {
		return "", fmt.Errorf("schnorr sign: %w", err)
	}
	return hex.EncodeToString(sig.Serialize()), nil
}

// VerifyMessage checks a hex signature against a message and a hex public
// key. Returns false on any error.
func VerifyMessage(message, signatureHex, publicKeyHex string) bool {
	sigBytes, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false
	}
	pubBytes, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return false
	}
	pubKey, err := secp256k1.ParsePubKey(pubBytes)
	if err != nil {
		return false
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return false
	}
	digest := blake3.Sum256([]byte(message))
	return sig.Verify(digest[:], pubKey)
}

// ValidateAddress checks that a counterparty address parses as a compressed
// secp256k1 public key.
func ValidateAddress(publicKeyHex string) error {
	pubBytes, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if _, err := secp256k1.ParsePubKey(pubBytes); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return nil
}

// OutputCommitment derives a deterministic commitment string for the index-th
// output of a transaction. Opaque outside this package.
func OutputCommitment(txID, index, value uint64) string {
	var buf [24]byte
	binary.BigEndian.PutUint64(buf[:8], txID)
	binary.BigEndian.PutUint64(buf[8:16], index)
	binary.BigEndian.PutUint64(buf[16:], value)
	digest := blake3.Sum256(buf[:])
	return hex.EncodeToString(digest[:])
}

// KernelDigest derives the kernel excess, nonce and signature blobs for a
// finalized transaction. The values are opaque immutable byte blobs.
func KernelDigest(txID uint64, counterparty string, amount, fee uint64) (excess, nonce, sig []byte) {
	var buf [24]byte
	binary.BigEndian.PutUint64(buf[:8], txID)
	binary.BigEndian.PutUint64(buf[8:16], amount)
	binary.BigEndian.PutUint64(buf[16:], fee)

	e := blake3.Sum256(append([]byte("excess"), buf[:]...))
	n := blake3.Sum256(append([]byte("nonce"), buf[:]...))
	s := blake3.Sum256(append(append([]byte("sig"), []byte(counterparty)...), buf[:]...))
	return e[:], n[:], s[:]
}
