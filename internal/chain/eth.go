/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

const escrowABIJSON = `[
	{"type":"function","name":"purchase","stateMutability":"payable","inputs":[{"name":"seller","type":"address"},{"name":"amount","type":"uint256"},{"name":"tokenAddress","type":"address"}],"outputs":[]},
	{"type":"function","name":"confirmReceipt","stateMutability":"nonpayable","inputs":[{"name":"purchaseId","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"refund","stateMutability":"nonpayable","inputs":[{"name":"purchaseId","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"purchases","stateMutability":"view","inputs":[{"name":"","type":"uint256"}],"outputs":[{"name":"buyer","type":"address"},{"name":"seller","type":"address"},{"name":"amount","type":"uint256"},{"name":"tokenAddress","type":"address"},{"name":"isConfirmed","type":"bool"},{"name":"isRefunded","type":"bool"}]},
	{"type":"function","name":"purchaseCount","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"event","name":"Purchased","inputs":[{"name":"purchaseId","type":"uint256","indexed":true},{"name":"buyer","type":"address","indexed":true},{"name":"seller","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false},{"name":"tokenAddress","type":"address","indexed":false}]},
	{"type":"event","name":"Confirmed","inputs":[{"name":"purchaseId","type":"uint256","indexed":true}]},
	{"type":"event","name":"Refunded","inputs":[{"name":"purchaseId","type":"uint256","indexed":true}]}
]`

const erc20ABIJSON = `[
	{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

// seqLogBits packs (block number, log index) into one strictly increasing
// sequence number: seq = blockNumber<<seqLogBits | logIndex. The checkpoint
// therefore survives restarts with plain integer comparison.
const seqLogBits = 20

// EthBackend talks JSON-RPC to an EVM node and signs with a local key. It
// is the production Backend; the revert-reason and error-shape inspection
// of the underlying client library happens only here.
type EthBackend struct {
	client     *ethclient.Client
	escrowAddr ethcommon.Address
	escrowABI  abi.ABI
	erc20ABI   abi.ABI
	key        *ecdsa.PrivateKey
	signerAddr ethcommon.Address
	chainId    *big.Int
}

// DialEthBackend connects to the node at endpoint and prepares the escrow
// and token bindings. privateKeyHex may be empty for read-only use
// (reconciliation needs no signer).
func DialEthBackend(ctx context.Context, endpoint, escrowAddress, privateKeyHex string) (*EthBackend, error) {
	client, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("unable to dial ledger rpc %s: %w", endpoint, err)
	}

	escrowABI, err := abi.JSON(strings.NewReader(escrowABIJSON))
	if err != nil {
		return nil, fmt.Errorf("unable to parse escrow abi: %w", err)
	}
	erc20ABI, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		return nil, fmt.Errorf("unable to parse erc20 abi: %w", err)
	}

	contract, err := ParseAddress(escrowAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid escrow contract address: %w", err)
	}

	chainId, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to read chain id: %w", err)
	}

	b := &EthBackend{
		client:     client,
		escrowAddr: ethcommon.Address(contract),
		escrowABI:  escrowABI,
		erc20ABI:   erc20ABI,
		chainId:    chainId,
	}

	if privateKeyHex != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid signing key: %w", err)
		}
		b.key = key
		b.signerAddr = crypto.PubkeyToAddress(key.PublicKey)
	}

	zap.L().Info("Connected to ledger rpc",
		zap.String("endpoint", endpoint),
		zap.String("escrow_contract", contract.Hex()),
		zap.Uint64("chain_id", chainId.Uint64()))
	return b, nil
}

// SignerAddress returns the address of the configured signing key.
func (b *EthBackend) SignerAddress() (Address, error) {
	if b.key == nil {
		return Address{}, fmt.Errorf("no signing key configured")
	}
	return Address(b.signerAddr), nil
}

func (b *EthBackend) ChainId(_ context.Context) (uint64, error) {
	return b.chainId.Uint64(), nil
}

// wrapNodeError converts the client library's error shapes into the
// duck-typed revert carrier understood by the taxonomy mapping, or leaves
// the error as-is for the submission-failure path.
func wrapNodeError(err error) error {
	msg := err.Error()
	if idx := strings.Index(msg, "execution reverted"); idx >= 0 {
		reason := strings.TrimPrefix(msg[idx+len("execution reverted"):], ":")
		return &revertError{reason: strings.TrimSpace(reason)}
	}
	return err
}

func (b *EthBackend) transactOpts(ctx context.Context, from Address, value *big.Int) (*bind.TransactOpts, error) {
	if b.key == nil {
		return nil, fmt.Errorf("no signing key configured")
	}
	if ethcommon.Address(from) != b.signerAddr {
		return nil, fmt.Errorf("submitting identity %s does not match signing key %s", from.Hex(), b.signerAddr.Hex())
	}
	opts, err := bind.NewKeyedTransactorWithChainID(b.key, b.chainId)
	if err != nil {
		return nil, fmt.Errorf("unable to build transactor: %w", err)
	}
	opts.Context = ctx
	opts.Value = value
	return opts, nil
}

// track finalizes ptx once the transaction is mined, decoding emitted
// escrow events into the receipt. It deliberately ignores the submitting
// caller's context: an abandoned wait must not stop finalization tracking.
func (b *EthBackend) track(ptx *PendingTx, tx *types.Transaction) {
	go func() {
		receipt, err := bind.WaitMined(context.Background(), b.client, tx)
		if err != nil {
			ptx.finalize(nil, fmt.Errorf("waiting for finalization: %w", err))
			return
		}
		if receipt.Status != types.ReceiptStatusSuccessful {
			ptx.finalize(nil, &revertError{reason: "transaction reverted during execution"})
			return
		}

		var events []Event
		for _, lg := range receipt.Logs {
			if lg.Address != b.escrowAddr {
				continue
			}
			ev, ok, err := b.decodeLog(lg)
			if err != nil {
				zap.L().Warn("Undecodable escrow log in receipt",
					zap.String("tx_hash", tx.Hash().Hex()),
					zap.Error(err))
				continue
			}
			if ok {
				events = append(events, ev)
			}
		}
		ptx.finalize(&Receipt{TxHash: tx.Hash().Hex(), Events: events}, nil)
	}()
}

func (b *EthBackend) escrowContract() *bind.BoundContract {
	return bind.NewBoundContract(b.escrowAddr, b.escrowABI, b.client, b.client, b.client)
}

func (b *EthBackend) SubmitPurchase(ctx context.Context, from, seller Address, amount *big.Int, asset Address, value *big.Int) (*PendingTx, error) {
	opts, err := b.transactOpts(ctx, from, value)
	if err != nil {
		return nil, err
	}

	tx, err := b.escrowContract().Transact(opts, "purchase",
		ethcommon.Address(seller), amount, ethcommon.Address(asset))
	if err != nil {
		return nil, wrapNodeError(err)
	}

	ptx := newPendingTx(tx.Hash().Hex())
	b.track(ptx, tx)
	return ptx, nil
}

func (b *EthBackend) SubmitConfirm(ctx context.Context, from Address, purchaseId uint64) (*PendingTx, error) {
	opts, err := b.transactOpts(ctx, from, nil)
	if err != nil {
		return nil, err
	}

	tx, err := b.escrowContract().Transact(opts, "confirmReceipt", new(big.Int).SetUint64(purchaseId))
	if err != nil {
		return nil, wrapNodeError(err)
	}

	ptx := newPendingTx(tx.Hash().Hex())
	b.track(ptx, tx)
	return ptx, nil
}

func (b *EthBackend) SubmitRefund(ctx context.Context, from Address, purchaseId uint64) (*PendingTx, error) {
	opts, err := b.transactOpts(ctx, from, nil)
	if err != nil {
		return nil, err
	}

	tx, err := b.escrowContract().Transact(opts, "refund", new(big.Int).SetUint64(purchaseId))
	if err != nil {
		return nil, wrapNodeError(err)
	}

	ptx := newPendingTx(tx.Hash().Hex())
	b.track(ptx, tx)
	return ptx, nil
}

func (b *EthBackend) call(ctx context.Context, to ethcommon.Address, contractABI abi.ABI, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("unable to encode %s call: %w", method, err)
	}
	res, err := b.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, wrapNodeError(err)
	}
	out, err := contractABI.Unpack(method, res)
	if err != nil {
		return nil, fmt.Errorf("unable to decode %s result: %w", method, err)
	}
	return out, nil
}

func (b *EthBackend) GetPurchase(ctx context.Context, purchaseId uint64) (*Purchase, error) {
	out, err := b.call(ctx, b.escrowAddr, b.escrowABI, "purchases", new(big.Int).SetUint64(purchaseId))
	if err != nil {
		return nil, err
	}
	return decodePurchaseResult(purchaseId, out)
}

func decodePurchaseResult(purchaseId uint64, out []interface{}) (*Purchase, error) {
	if len(out) != 6 {
		return nil, fmt.Errorf("unexpected purchases result arity %d", len(out))
	}

	buyer, ok := out[0].(ethcommon.Address)
	if !ok {
		return nil, fmt.Errorf("unexpected buyer type %T", out[0])
	}
	if buyer == (ethcommon.Address{}) {
		// The mapping returns a zero record for ids the ledger never assigned.
		return nil, fmt.Errorf("%w: %d", ErrUnknownPurchase, purchaseId)
	}

	seller, ok := out[1].(ethcommon.Address)
	if !ok {
		return nil, fmt.Errorf("unexpected seller type %T", out[1])
	}
	amount, ok := out[2].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected amount type %T", out[2])
	}
	asset, ok := out[3].(ethcommon.Address)
	if !ok {
		return nil, fmt.Errorf("unexpected asset type %T", out[3])
	}
	isConfirmed, ok := out[4].(bool)
	if !ok {
		return nil, fmt.Errorf("unexpected confirmed flag type %T", out[4])
	}
	isRefunded, ok := out[5].(bool)
	if !ok {
		return nil, fmt.Errorf("unexpected refunded flag type %T", out[5])
	}

	return &Purchase{
		Id:          purchaseId,
		Buyer:       Address(buyer),
		Seller:      Address(seller),
		Amount:      amount,
		Asset:       Address(asset),
		IsConfirmed: isConfirmed,
		IsRefunded:  isRefunded,
	}, nil
}

func (b *EthBackend) PurchaseCount(ctx context.Context) (uint64, error) {
	out, err := b.call(ctx, b.escrowAddr, b.escrowABI, "purchaseCount")
	if err != nil {
		return 0, err
	}
	if len(out) != 1 {
		return 0, fmt.Errorf("unexpected purchaseCount result arity %d", len(out))
	}
	count, ok := out[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("unexpected purchaseCount type %T", out[0])
	}
	return count.Uint64(), nil
}

func (b *EthBackend) Allowance(ctx context.Context, asset, owner, spender Address) (*big.Int, error) {
	out, err := b.call(ctx, ethcommon.Address(asset), b.erc20ABI, "allowance",
		ethcommon.Address(owner), ethcommon.Address(spender))
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("unexpected allowance result arity %d", len(out))
	}
	remaining, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected allowance type %T", out[0])
	}
	return remaining, nil
}

func (b *EthBackend) SubmitApprove(ctx context.Context, from, asset, spender Address, amount *big.Int) (*PendingTx, error) {
	opts, err := b.transactOpts(ctx, from, nil)
	if err != nil {
		return nil, err
	}

	token := bind.NewBoundContract(ethcommon.Address(asset), b.erc20ABI, b.client, b.client, b.client)
	tx, err := token.Transact(opts, "approve", ethcommon.Address(spender), amount)
	if err != nil {
		return nil, wrapNodeError(err)
	}

	ptx := newPendingTx(tx.Hash().Hex())
	b.track(ptx, tx)
	return ptx, nil
}

func (b *EthBackend) EventsSince(ctx context.Context, afterSeq uint64) ([]Event, error) {
	fromBlock := afterSeq >> seqLogBits

	query := ethereum.FilterQuery{
		Addresses: []ethcommon.Address{b.escrowAddr},
		FromBlock: new(big.Int).SetUint64(fromBlock),
		Topics: [][]ethcommon.Hash{{
			b.escrowABI.Events["Purchased"].ID,
			b.escrowABI.Events["Confirmed"].ID,
			b.escrowABI.Events["Refunded"].ID,
		}},
	}

	logs, err := b.client.FilterLogs(ctx, query)
	if err != nil {
		return nil, wrapNodeError(err)
	}

	var out []Event
	for i := range logs {
		lg := logs[i]
		ev, ok, err := b.decodeLog(&lg)
		if err != nil {
			zap.L().Warn("Skipping undecodable escrow log",
				zap.Uint64("block", lg.BlockNumber),
				zap.Uint("index", lg.Index),
				zap.Error(err))
			continue
		}
		if !ok || ev.Seq <= afterSeq {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// decodeLog converts one escrow contract log into an Event. The second
// return is false for logs from topics this client does not track.
func (b *EthBackend) decodeLog(lg *types.Log) (Event, bool, error) {
	if len(lg.Topics) == 0 {
		return Event{}, false, nil
	}
	seq := lg.BlockNumber<<seqLogBits | uint64(lg.Index)

	switch lg.Topics[0] {
	case b.escrowABI.Events["Purchased"].ID:
		if len(lg.Topics) != 4 {
			return Event{}, false, fmt.Errorf("Purchased log with %d topics", len(lg.Topics))
		}
		vals, err := b.escrowABI.Unpack("Purchased", lg.Data)
		if err != nil {
			return Event{}, false, fmt.Errorf("unable to decode Purchased data: %w", err)
		}
		if len(vals) != 2 {
			return Event{}, false, fmt.Errorf("Purchased data arity %d", len(vals))
		}
		amount, ok := vals[0].(*big.Int)
		if !ok {
			return Event{}, false, fmt.Errorf("unexpected Purchased amount type %T", vals[0])
		}
		asset, ok := vals[1].(ethcommon.Address)
		if !ok {
			return Event{}, false, fmt.Errorf("unexpected Purchased asset type %T", vals[1])
		}
		return Event{
			Seq:        seq,
			Type:       EventPurchased,
			PurchaseId: new(big.Int).SetBytes(lg.Topics[1].Bytes()).Uint64(),
			Buyer:      Address(ethcommon.BytesToAddress(lg.Topics[2].Bytes())),
			Seller:     Address(ethcommon.BytesToAddress(lg.Topics[3].Bytes())),
			Amount:     amount,
			Asset:      Address(asset),
		}, true, nil

	case b.escrowABI.Events["Confirmed"].ID:
		if len(lg.Topics) != 2 {
			return Event{}, false, fmt.Errorf("Confirmed log with %d topics", len(lg.Topics))
		}
		return Event{
			Seq:        seq,
			Type:       EventConfirmed,
			PurchaseId: new(big.Int).SetBytes(lg.Topics[1].Bytes()).Uint64(),
		}, true, nil

	case b.escrowABI.Events["Refunded"].ID:
		if len(lg.Topics) != 2 {
			return Event{}, false, fmt.Errorf("Refunded log with %d topics", len(lg.Topics))
		}
		return Event{
			Seq:        seq,
			Type:       EventRefunded,
			PurchaseId: new(big.Int).SetBytes(lg.Topics[1].Bytes()).Uint64(),
		}, true, nil
	}
	return Event{}, false, nil
}
