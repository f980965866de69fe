/**
 * @description
 * EIP-155 transaction signing for the backend custody wallet.
 *
 * @dependencies
 * - github.com/ethereum/go-ethereum/crypto: Private key parsing.
 * - github.com/ethereum/go-ethereum/core/types: Transaction signing.
 */

package agent

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer signs outgoing transactions with the backend wallet key.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
}

// NewSigner parses a hex private key (with or without 0x prefix) and binds it
// to the given chain id.
func NewSigner(hexKey string, chainID *big.Int) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, fmt.Errorf("chain id must be positive")
	}
	return &Signer{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
	}, nil
}

// Address of the signing wallet.
func (s *Signer) Address() common.Address { return s.address }

// ChainID the signer is bound to.
func (s *Signer) ChainID() *big.Int { return new(big.Int).Set(s.chainID) }

// Sign produces an EIP-155 signed copy of tx.
func (s *Signer) Sign(tx *types.Transaction) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.key)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return signed, nil
}
