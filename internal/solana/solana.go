// Package solana builds SPL token transfer transactions.
package solana

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"

	x402 "github.com/Zyzgsfi/agentpay"
)

// ComputeBudgetProgramID is the Solana Compute Budget program ID.
var ComputeBudgetProgramID = solana.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111")

const (
	// DefaultComputeUnits is the compute unit limit set on transfers.
	DefaultComputeUnits uint32 = 200_000

	// DefaultComputeUnitPrice is the priority fee in microlamports per unit.
	DefaultComputeUnitPrice uint64 = 10_000
)

// Compute Budget instruction discriminators.
const (
	setComputeUnitLimit = 2
	setComputeUnitPrice = 3
)

// TransferInstructions returns the instructions that move amount of mint from
// owner's associated token account to recipient's, creating the recipient's
// account if needed. payer funds account creation.
func TransferInstructions(payer, owner, recipient, mint solana.PublicKey, amount uint64, decimals uint8) ([]solana.Instruction, error) {
	source, err := AssociatedTokenAddress(owner, mint)
	if err != nil {
		return nil, err
	}
	destination, err := AssociatedTokenAddress(recipient, mint)
	if err != nil {
		return nil, err
	}

	transfer := token.NewTransferCheckedInstructionBuilder().
		SetAmount(amount).
		SetDecimals(decimals).
		SetSourceAccount(source).
		SetDestinationAccount(destination).
		SetMintAccount(mint).
		SetOwnerAccount(owner).
		Build()

	return []solana.Instruction{
		ComputeUnitLimit(DefaultComputeUnits),
		ComputeUnitPrice(DefaultComputeUnitPrice),
		createIdempotentATA(payer, recipient, mint, destination),
		transfer,
	}, nil
}

// ComputeUnitLimit builds a SetComputeUnitLimit instruction.
func ComputeUnitLimit(units uint32) solana.Instruction {
	data := make([]byte, 5)
	data[0] = setComputeUnitLimit
	binary.LittleEndian.PutUint32(data[1:], units)
	return solana.NewInstruction(ComputeBudgetProgramID, solana.AccountMetaSlice{}, data)
}

// ComputeUnitPrice builds a SetComputeUnitPrice instruction.
func ComputeUnitPrice(microlamports uint64) solana.Instruction {
	data := make([]byte, 9)
	data[0] = setComputeUnitPrice
	binary.LittleEndian.PutUint64(data[1:], microlamports)
	return solana.NewInstruction(ComputeBudgetProgramID, solana.AccountMetaSlice{}, data)
}

// AssociatedTokenAddress derives owner's associated token account for mint.
func AssociatedTokenAddress(owner, mint solana.PublicKey) (solana.PublicKey, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive token account: %w", err)
	}
	return ata, nil
}

// createIdempotentATA is instruction 1 of the associated token program,
// which succeeds when the account already exists.
func createIdempotentATA(payer, owner, mint, ata solana.PublicKey) solana.Instruction {
	accounts := solana.AccountMetaSlice{
		{PublicKey: payer, IsSigner: true, IsWritable: true},
		{PublicKey: ata, IsWritable: true},
		{PublicKey: owner},
		{PublicKey: mint},
		{PublicKey: solana.SystemProgramID},
		{PublicKey: solana.TokenProgramID},
	}
	return solana.NewInstruction(solana.SPLAssociatedTokenAccountProgramID, accounts, []byte{1})
}

// RPCURL returns the public RPC endpoint for a Solana CAIP-2 network.
func RPCURL(network string) (string, error) {
	switch network {
	case x402.NetworkSolanaMainnet:
		return rpc.MainNetBeta_RPC, nil
	case x402.NetworkSolanaDevnet:
		return rpc.DevNet_RPC, nil
	default:
		return "", fmt.Errorf("%w: %s is not a Solana network", x402.ErrInvalidNetwork, network)
	}
}
