// Package erc20 implements domain.Ledger against a 6-decimal ERC-20
// stablecoin. The escrow account is a locally held key; pulls use
// transferFrom against allowances granted to it.
package erc20

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/weathercover/internal/domain"
)

const tokenABI = `[
{"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"transferFrom","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

var (
	// ErrReverted is returned when a mined transaction has a failed status.
	ErrReverted = errors.New("erc20: transaction reverted")
	// ErrDropped is returned by Confirm when the node knows neither a receipt
	// nor the transaction itself.
	ErrDropped = errors.New("erc20: transaction dropped")
)

// Backend is the subset of ethclient.Client the ledger uses.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
}

// Config configures the on-chain ledger.
type Config struct {
	RPCURL         string
	ChainID        int64
	TokenAddress   string
	ReceiptTimeout time.Duration
	PollInterval   time.Duration
}

// Ledger moves stablecoin from the escrow key. Sends are serialised so the
// escrow nonce sequence has no gaps.
type Ledger struct {
	backend Backend
	abi     abi.ABI
	token   common.Address
	key     *ecdsa.PrivateKey
	escrow  common.Address
	signer  types.Signer
	timeout time.Duration
	poll    time.Duration
	logger  *slog.Logger

	sendMu sync.Mutex
}

// Dial connects to cfg.RPCURL and returns a Ledger for the escrow key.
func Dial(ctx context.Context, cfg Config, key *ecdsa.PrivateKey, logger *slog.Logger) (*Ledger, error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("erc20: dial %s: %w", cfg.RPCURL, err)
	}
	return New(client, cfg, key, logger)
}

// New builds a Ledger over an existing backend.
func New(backend Backend, cfg Config, key *ecdsa.PrivateKey, logger *slog.Logger) (*Ledger, error) {
	if !common.IsHexAddress(cfg.TokenAddress) {
		return nil, fmt.Errorf("erc20: invalid token address %q", cfg.TokenAddress)
	}
	if key == nil {
		return nil, errors.New("erc20: escrow key is required")
	}
	parsed, err := abi.JSON(strings.NewReader(tokenABI))
	if err != nil {
		return nil, fmt.Errorf("erc20: parse abi: %w", err)
	}
	timeout := cfg.ReceiptTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}
	return &Ledger{
		backend: backend,
		abi:     parsed,
		token:   common.HexToAddress(cfg.TokenAddress),
		key:     key,
		escrow:  ethcrypto.PubkeyToAddress(key.PublicKey),
		signer:  types.LatestSignerForChainID(big.NewInt(cfg.ChainID)),
		timeout: timeout,
		poll:    poll,
		logger:  logger.With(slog.String("component", "erc20_ledger")),
	}, nil
}

// Escrow returns the escrow account address.
func (l *Ledger) Escrow() string { return l.escrow.Hex() }

// TransferFrom pulls amount from an owner who approved the escrow.
func (l *Ledger) TransferFrom(ctx context.Context, from, to string, amount domain.Amount) (string, error) {
	fromAddr, err := address(from)
	if err != nil {
		return "", err
	}
	toAddr, err := address(to)
	if err != nil {
		return "", err
	}
	return l.send(ctx, "transferFrom", fromAddr, toAddr, amount.Big())
}

// Transfer sends amount out of the escrow account.
func (l *Ledger) Transfer(ctx context.Context, to string, amount domain.Amount) (string, error) {
	toAddr, err := address(to)
	if err != nil {
		return "", err
	}
	return l.send(ctx, "transfer", toAddr, amount.Big())
}

// Allowance returns what owner has approved spender to pull.
func (l *Ledger) Allowance(ctx context.Context, owner, spender string) (domain.Amount, error) {
	o, err := address(owner)
	if err != nil {
		return 0, err
	}
	s, err := address(spender)
	if err != nil {
		return 0, err
	}
	return l.callAmount(ctx, "allowance", o, s)
}

// BalanceOf returns the token balance of account.
func (l *Ledger) BalanceOf(ctx context.Context, account string) (domain.Amount, error) {
	a, err := address(account)
	if err != nil {
		return 0, err
	}
	return l.callAmount(ctx, "balanceOf", a)
}

func (l *Ledger) callAmount(ctx context.Context, method string, args ...any) (domain.Amount, error) {
	data, err := l.abi.Pack(method, args...)
	if err != nil {
		return 0, fmt.Errorf("erc20: pack %s: %w", method, err)
	}
	out, err := l.backend.CallContract(ctx, ethereum.CallMsg{To: &l.token, Data: data}, nil)
	if err != nil {
		return 0, fmt.Errorf("erc20: call %s: %w", method, err)
	}
	vals, err := l.abi.Unpack(method, out)
	if err != nil {
		return 0, fmt.Errorf("erc20: unpack %s: %w", method, err)
	}
	v, ok := vals[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("erc20: %s returned %T", method, vals[0])
	}
	return domain.AmountFromBig(v)
}

// send signs and broadcasts a token call from the escrow key and waits for a
// successful receipt. The returned ref is the tx hash. Once a tx is signed its
// hash is always returned; if the broadcast or the receipt wait fails without
// a definite answer the error wraps domain.ErrTransferPending.
func (l *Ledger) send(ctx context.Context, method string, args ...any) (string, error) {
	data, err := l.abi.Pack(method, args...)
	if err != nil {
		return "", fmt.Errorf("erc20: pack %s: %w", method, err)
	}

	l.sendMu.Lock()
	tx, err := l.signAndSend(ctx, data)
	l.sendMu.Unlock()
	if tx == nil {
		return "", fmt.Errorf("erc20: %s: %w", method, err)
	}
	hash := tx.Hash().Hex()
	if err != nil {
		l.logger.WarnContext(ctx, "token tx broadcast unconfirmed",
			slog.String("method", method),
			slog.String("tx", hash),
			slog.String("error", err.Error()),
		)
		return hash, fmt.Errorf("erc20: %s %s: %w: %w", method, hash, domain.ErrTransferPending, err)
	}

	l.logger.InfoContext(ctx, "token tx sent",
		slog.String("method", method),
		slog.String("tx", hash),
	)

	if err := l.waitMined(ctx, tx.Hash()); err != nil {
		return hash, fmt.Errorf("erc20: %s %s: %w", method, hash, err)
	}
	return hash, nil
}

func (l *Ledger) signAndSend(ctx context.Context, data []byte) (*types.Transaction, error) {
	nonce, err := l.backend.PendingNonceAt(ctx, l.escrow)
	if err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	gasPrice, err := l.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("gas price: %w", err)
	}
	gas, err := l.backend.EstimateGas(ctx, ethereum.CallMsg{From: l.escrow, To: &l.token, Data: data})
	if err != nil {
		return nil, fmt.Errorf("estimate gas: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &l.token,
		Value:    new(big.Int),
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, l.signer, l.key)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	if err := l.backend.SendTransaction(ctx, signed); err != nil {
		return signed, fmt.Errorf("send: %w", err)
	}
	return signed, nil
}

func (l *Ledger) waitMined(ctx context.Context, hash common.Hash) error {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		receipt, err := l.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return ErrReverted
			}
			return nil
		case !errors.Is(err, ethereum.NotFound):
			return fmt.Errorf("%w: receipt: %w", domain.ErrTransferPending, err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: waiting for receipt: %w", domain.ErrTransferPending, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Confirm looks up the receipt of a previously sent tx without re-sending it.
func (l *Ledger) Confirm(ctx context.Context, ref string) error {
	b, err := hexutil.Decode(ref)
	if err != nil || len(b) != common.HashLength {
		return fmt.Errorf("erc20: confirm: invalid tx hash %q", ref)
	}
	hash := common.BytesToHash(b)

	receipt, err := l.backend.TransactionReceipt(ctx, hash)
	switch {
	case err == nil:
		if receipt.Status != types.ReceiptStatusSuccessful {
			return fmt.Errorf("erc20: confirm %s: %w", ref, ErrReverted)
		}
		return nil
	case !errors.Is(err, ethereum.NotFound):
		return fmt.Errorf("erc20: confirm %s: %w: receipt: %w", ref, domain.ErrTransferPending, err)
	}

	_, _, err = l.backend.TransactionByHash(ctx, hash)
	switch {
	case err == nil:
		return fmt.Errorf("erc20: confirm %s: %w: not mined yet", ref, domain.ErrTransferPending)
	case errors.Is(err, ethereum.NotFound):
		l.logger.WarnContext(ctx, "token tx unknown to node", slog.String("tx", ref))
		return fmt.Errorf("erc20: confirm %s: %w", ref, ErrDropped)
	default:
		return fmt.Errorf("erc20: confirm %s: %w: lookup: %w", ref, domain.ErrTransferPending, err)
	}
}

func address(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("erc20: invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

var _ domain.Ledger = (*Ledger)(nil)
