package lotto

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Derivation seeds of the engine's program addresses.
const (
	RegistrySeed        = "lollys-lotto"
	GameSeed            = "lotto-game"
	GameVaultSignerSeed = "lotto-game-vault-signer"
	TicketSeed          = "lotto-ticket"
	UserMetadataSeed    = "user-metadata"
	BurnStateSeed       = "lolly-burn-state"
)

// Addresses derives every engine account address from the program identity
// and the two mints the engine handles.
type Addresses struct {
	ProgramID solana.PublicKey
	UsdcMint  solana.PublicKey
	LollyMint solana.PublicKey
}

func (a Addresses) find(seeds ...[]byte) (solana.PublicKey, uint8, error) {
	addr, bump, err := solana.FindProgramAddress(seeds, a.ProgramID)
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("failed to derive program address: %w", err)
	}
	return addr, bump, nil
}

func ata(owner, mint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive associated token address: %w", err)
	}
	return addr, nil
}

// RoundSeed is the little-endian encoding of round used in game seeds.
func RoundSeed(round uint64) []byte {
	return binary.LittleEndian.AppendUint64(nil, round)
}

func (a Addresses) Registry(authority solana.PublicKey) (solana.PublicKey, uint8, error) {
	return a.find([]byte(RegistrySeed), authority[:])
}

func (a Addresses) Game(authority solana.PublicKey, round uint64) (solana.PublicKey, uint8, error) {
	return a.find([]byte(GameSeed), authority[:], RoundSeed(round))
}

// GameVaultSigner is the program address that owns the game pool vault.
func (a Addresses) GameVaultSigner(game solana.PublicKey) (solana.PublicKey, uint8, error) {
	return a.find([]byte(GameVaultSignerSeed), game[:])
}

// GameVault is the pool vault: the USDC associated account of the vault signer.
func (a Addresses) GameVault(game solana.PublicKey) (solana.PublicKey, error) {
	signer, _, err := a.GameVaultSigner(game)
	if err != nil {
		return solana.PublicKey{}, err
	}
	return ata(signer, a.UsdcMint)
}

// Ticket derives the ticket address, unique per (game, buyer, numbers).
func (a Addresses) Ticket(game, userMetadata solana.PublicKey, numbers [6]uint8) (solana.PublicKey, uint8, error) {
	return a.find([]byte(TicketSeed), game[:], userMetadata[:], numbers[:])
}

func (a Addresses) UserMetadata(user solana.PublicKey) (solana.PublicKey, uint8, error) {
	return a.find([]byte(UserMetadataSeed), user[:])
}

// UserRewardsVault is the USDC associated account of the user metadata.
func (a Addresses) UserRewardsVault(userMetadata solana.PublicKey) (solana.PublicKey, error) {
	return ata(userMetadata, a.UsdcMint)
}

// UserUsdcAccount is the USDC associated account the user buys and claims with.
func (a Addresses) UserUsdcAccount(user solana.PublicKey) (solana.PublicKey, error) {
	return ata(user, a.UsdcMint)
}

func (a Addresses) BurnState(authority solana.PublicKey) (solana.PublicKey, uint8, error) {
	return a.find([]byte(BurnStateSeed), authority[:])
}

func (a Addresses) BurnUsdcVault(burnState solana.PublicKey) (solana.PublicKey, error) {
	return ata(burnState, a.UsdcMint)
}

func (a Addresses) BurnLollyVault(burnState solana.PublicKey) (solana.PublicKey, error) {
	return ata(burnState, a.LollyMint)
}
