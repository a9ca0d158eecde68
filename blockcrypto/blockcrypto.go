// Package blockcrypto provides the signing capability transactions
// carry.  The ledger and sync engine treat signatures as opaque bytes;
// everything scheme-specific lives here.
package blockcrypto

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/ed25519"

	"github.com/btpcsuite/btpcd/chainhash"
	"github.com/btpcsuite/btpcd/wire"
)

var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrBadKeyLength     = errors.New("bad public key length")
	ErrMissingSignature = errors.New("input carries no signature")
)

// Signer produces signatures under one key pair.
type Signer interface {
	// PublicKey returns the verifying key.
	PublicKey() []byte

	// Sign signs an arbitrary message.
	Sign(msg []byte) ([]byte, error)
}

// ed25519Signer is the default Signer.
type ed25519Signer struct {
	priv ed25519.PrivateKey
}

// NewSigner generates a fresh Ed25519 key pair.
func NewSigner() (Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &ed25519Signer{priv: priv}, nil
}

// NewSignerFromSeed derives a deterministic signer from a 32 byte seed.
func NewSignerFromSeed(seed []byte) (Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: seed must be %d bytes, got %d",
			ErrBadKeyLength, ed25519.SeedSize, len(seed))
	}
	return &ed25519Signer{priv: ed25519.NewKeyFromSeed(seed)}, nil
}

func (s *ed25519Signer) PublicKey() []byte {
	pub := s.priv.Public().(ed25519.PublicKey)
	return []byte(pub)
}

func (s *ed25519Signer) Sign(msg []byte) ([]byte, error) {
	return ed25519.Sign(s.priv, msg), nil
}

// SignatureData is what a signed input carries on the wire: the
// verifying key followed by the signature over the input's sighash.
type SignatureData struct {
	PublicKey []byte
	Signature []byte
}

// Serialize packs the signature data into the flat byte form stored in
// a TxIn.
func (sd *SignatureData) Serialize() []byte {
	out := make([]byte, 0, len(sd.PublicKey)+len(sd.Signature))
	out = append(out, sd.PublicKey...)
	return append(out, sd.Signature...)
}

// ParseSignatureData splits a TxIn signature blob back into key and
// signature.
func ParseSignatureData(raw []byte) (*SignatureData, error) {
	if len(raw) != ed25519.PublicKeySize+ed25519.SignatureSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidSignature, len(raw))
	}
	return &SignatureData{
		PublicKey: raw[:ed25519.PublicKeySize],
		Signature: raw[ed25519.PublicKeySize:],
	}, nil
}

// InputSigHash is the message an input signature commits to: the
// transaction with every signature blanked, plus the index of the input
// being signed.
func InputSigHash(tx *wire.MsgTx, idx int) (chainhash.Hash, error) {
	if idx < 0 || idx >= len(tx.TxIn) {
		return chainhash.Hash{}, fmt.Errorf("input index %d out of range", idx)
	}

	stripped := wire.NewMsgTx()
	for _, in := range tx.TxIn {
		stripped.AddTxIn(&wire.TxIn{PreviousOutPoint: in.PreviousOutPoint})
	}
	for _, out := range tx.TxOut {
		stripped.AddTxOut(out)
	}

	var buf bytes.Buffer
	if err := stripped.Serialize(&buf); err != nil {
		return chainhash.Hash{}, err
	}
	buf.WriteByte(byte(idx))
	buf.WriteByte(byte(idx >> 8))
	buf.WriteByte(byte(idx >> 16))
	buf.WriteByte(byte(idx >> 24))
	return chainhash.HashH(buf.Bytes()), nil
}

// SignInput signs one input and attaches the result to the
// transaction.
func SignInput(tx *wire.MsgTx, idx int, signer Signer) error {
	sigHash, err := InputSigHash(tx, idx)
	if err != nil {
		return err
	}
	sig, err := signer.Sign(sigHash[:])
	if err != nil {
		return err
	}
	sd := &SignatureData{PublicKey: signer.PublicKey(), Signature: sig}
	tx.TxIn[idx].Signature = sd.Serialize()
	return nil
}

// VerifyInput checks one input's attached signature.
func VerifyInput(tx *wire.MsgTx, idx int) error {
	if idx < 0 || idx >= len(tx.TxIn) {
		return fmt.Errorf("input index %d out of range", idx)
	}
	raw := tx.TxIn[idx].Signature
	if len(raw) == 0 {
		return fmt.Errorf("%w: input %d", ErrMissingSignature, idx)
	}
	sd, err := ParseSignatureData(raw)
	if err != nil {
		return err
	}
	return Verify(sd, tx, idx)
}

// Verify checks signature data against a specific input.
func Verify(sd *SignatureData, tx *wire.MsgTx, idx int) error {
	if len(sd.PublicKey) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: %d bytes", ErrBadKeyLength, len(sd.PublicKey))
	}
	sigHash, err := InputSigHash(tx, idx)
	if err != nil {
		return err
	}
	if !ed25519.Verify(ed25519.PublicKey(sd.PublicKey), sigHash[:], sd.Signature) {
		return fmt.Errorf("%w: input %d", ErrInvalidSignature, idx)
	}
	return nil
}

// VerifyTx checks every non-coinbase input on a transaction.
func VerifyTx(tx *wire.MsgTx) error {
	for i, in := range tx.TxIn {
		if in.PreviousOutPoint.Hash.IsZero() {
			continue
		}
		if err := VerifyInput(tx, i); err != nil {
			return err
		}
	}
	return nil
}
