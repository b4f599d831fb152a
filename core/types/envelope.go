package types

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// EnvelopeDomainV1 separates queue call signatures from any other message the
// same key might sign.
const EnvelopeDomainV1 = "ATOMICQUEUE_CALL_V1"

// Action names the state transition an envelope authorises.
type Action string

const (
	ActionUpdateRequest Action = "queue.update_request"
	ActionSolve         Action = "queue.solve"
	ActionToggleSolvers Action = "queue.toggle_solvers"
	ActionSetPaused     Action = "queue.set_paused"
	ActionApprove       Action = "ledger.approve"
)

var (
	// ErrEnvelopeDomain indicates the envelope was signed for another domain.
	ErrEnvelopeDomain = errors.New("envelope: domain invalid")
	// ErrEnvelopeSignature indicates the signature is missing or cannot be recovered.
	ErrEnvelopeSignature = errors.New("envelope: signature invalid")
	// ErrEnvelopeAction indicates the envelope authorises a different action than requested.
	ErrEnvelopeAction = errors.New("envelope: action mismatch")
)

// Envelope carries a signed call. The signer of the envelope is the caller
// identity the queue sees; nothing else in the payload is trusted for that.
type Envelope struct {
	Domain    string          `json:"domain"`
	Action    Action          `json:"action"`
	Nonce     uint64          `json:"nonce"`
	Payload   json.RawMessage `json:"payload"`
	Signature hexutil.Bytes   `json:"signature"`
}

// NewEnvelope marshals payload into an unsigned envelope for action.
func NewEnvelope(action Action, nonce uint64, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("envelope: encode payload: %w", err)
	}
	return &Envelope{Domain: EnvelopeDomainV1, Action: action, Nonce: nonce, Payload: raw}, nil
}

// Hash reconstructs the digest covered by the signature.
func (e *Envelope) Hash() []byte {
	payloadHash := ethcrypto.Keccak256(e.Payload)
	message := fmt.Sprintf("%s|action=%s|nonce=%d|payload=%s",
		strings.TrimSpace(e.Domain),
		strings.TrimSpace(string(e.Action)),
		e.Nonce,
		hex.EncodeToString(payloadHash),
	)
	return ethcrypto.Keccak256([]byte(message))
}

// Sign signs the envelope digest with key.
func (e *Envelope) Sign(key *ecdsa.PrivateKey) error {
	if key == nil {
		return fmt.Errorf("envelope: nil signing key")
	}
	sig, err := ethcrypto.Sign(e.Hash(), key)
	if err != nil {
		return err
	}
	e.Signature = sig
	return nil
}

// Sender recovers the signer identity.
func (e *Envelope) Sender() (common.Address, error) {
	if e == nil {
		return common.Address{}, ErrEnvelopeSignature
	}
	if !strings.EqualFold(strings.TrimSpace(e.Domain), EnvelopeDomainV1) {
		return common.Address{}, ErrEnvelopeDomain
	}
	if len(e.Signature) != ethcrypto.SignatureLength {
		return common.Address{}, ErrEnvelopeSignature
	}
	pubKey, err := ethcrypto.SigToPub(e.Hash(), e.Signature)
	if err != nil {
		return common.Address{}, ErrEnvelopeSignature
	}
	return ethcrypto.PubkeyToAddress(*pubKey), nil
}

// Open checks that the envelope authorises want, recovers the sender and
// decodes the payload into dst. Unknown payload fields are rejected.
func (e *Envelope) Open(want Action, dst any) (common.Address, error) {
	if e == nil {
		return common.Address{}, ErrEnvelopeSignature
	}
	if e.Action != want {
		return common.Address{}, fmt.Errorf("%w: got %q want %q", ErrEnvelopeAction, e.Action, want)
	}
	sender, err := e.Sender()
	if err != nil {
		return common.Address{}, err
	}
	dec := json.NewDecoder(bytes.NewReader(e.Payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return common.Address{}, fmt.Errorf("envelope: decode payload: %w", err)
	}
	return sender, nil
}
