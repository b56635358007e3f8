package lotto

import (
	"errors"
	"fmt"

	"github.com/malbeclabs/lolly/engine/pkg/ledger"
)

// ErrorCodeOffset is the code of the first engine error.
const ErrorCodeOffset = 6000

// Error is an engine failure with a stable numeric code.
type Error struct {
	Code uint32
	Name string
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Name, e.Code, e.Msg)
}

var registered []*Error

func newError(name, msg string) *Error {
	e := &Error{Code: ErrorCodeOffset + uint32(len(registered)), Name: name, Msg: msg}
	registered = append(registered, e)
	return e
}

// The declaration order fixes the codes; append new errors at the end.
var (
	ErrInvalidRound                    = newError("InvalidRound", "Invalid round")
	ErrInvalidNumbersInTicket          = newError("InvalidNumbersInTicket", "Invalid numbers in ticket")
	ErrInvalidWinningTicket            = newError("InvalidWinningTicket", "Invalid winning ticket")
	ErrInvalidWinningNumberIndex       = newError("InvalidWinningNumberIndex", "Invalid winning number index")
	ErrWinningNumberIndexIsNotProvided = newError("WinningNumberIndexIsNotProvided", "Winning number index is not provided")
	ErrInvalidWinningTier              = newError("InvalidWinningTier", "Invalid winning tier")

	ErrLottoGameNotOpen       = newError("LottoGameNotOpen", "Lotto game is not open")
	ErrLottoGameEnded         = newError("LottoGameEnded", "Lotto game has ended")
	ErrLottoGameIsStillOpen   = newError("LottoGameIsStillOpen", "Lotto game is still open")
	ErrGameNotClosed          = newError("GameNotClosed", "Game not closed")
	ErrGameAlreadyClosed      = newError("GameAlreadyClosed", "Game already closed")
	ErrLottoGameVaultNotEmpty = newError("LottoGameVaultNotEmpty", "Lotto game vault not empty")

	ErrRoundNumbersAreSequential       = newError("RoundNumbersAreSequential", "Round numbers have to be sequential")
	ErrWinningNumbersNotSet            = newError("WinningNumbersNotSet", "Winning numbers not set")
	ErrJackpotWinningNumbersNotUpdated = newError("JackpotWinningNumbersNotUpdated", "Jackpot winning numbers not updated")
	ErrTier1WinningNumbersNotUpdated   = newError("Tier1WinningNumbersNotUpdated", "Tier 1 winning numbers not updated")
	ErrTier2WinningNumbersNotUpdated   = newError("Tier2WinningNumbersNotUpdated", "Tier 2 winning numbers not updated")
	ErrTier3WinningNumbersNotUpdated   = newError("Tier3WinningNumbersNotUpdated", "Tier 3 winning numbers not updated")
	ErrJackpotAmountAlreadyDisbursed   = newError("JackpotAmountAlreadyDisbursed", "Jackpot amount already disbursed")
	ErrTier1AmountAlreadyDisbursed     = newError("Tier1AmountAlreadyDisbursed", "Tier 1 amount already disbursed")
	ErrTier2AmountAlreadyDisbursed     = newError("Tier2AmountAlreadyDisbursed", "Tier 2 amount already disbursed")
	ErrTier3AmountAlreadyDisbursed     = newError("Tier3AmountAlreadyDisbursed", "Tier 3 amount already disbursed")
	ErrAlreadyDeclaredWinner           = newError("AlreadyDeclaredWinner", "Winner already declared")
	ErrDuplicateWinningNumbers         = newError("DuplicateWinningNumbers", "Duplicate winning numbers")

	ErrInsufficientFunds           = newError("InsufficientFunds", "Insufficient funds")
	ErrNoRewardsToClaimFromVault   = newError("NoRewardsToClaimFromVault", "No rewards to claim from vault")
	ErrNotSufficientRewardsInVault = newError("NotSufficientRewardsInVault", "Not sufficient rewards in vault")

	ErrOverflowError = newError("OverflowError", "Overflow error")
	ErrMathError     = newError("MathError", "Math error")

	ErrOnlySwapToLOLLYAllowed                   = newError("OnlySwapToLOLLYAllowed", "Only swap to LOLLY allowed")
	ErrOnlySwapFromUSDCAllowed                  = newError("OnlySwapFromUSDCAllowed", "Only swap from USDC allowed")
	ErrJupiterIxSourceTokenAccountMismatch      = newError("JupiterIxSourceTokenAccountMismatch", "Swap source token account mismatch")
	ErrJupiterIxDestinationTokenAccountMismatch = newError("JupiterIxDestinationTokenAccountMismatch", "Swap destination token account mismatch")
	ErrTokenAccountAuthorityMismatch            = newError("TokenAccountAuthorityMismatch", "Token account authority mismatch")
	ErrOnDemandRandomnessNotResolved            = newError("OnDemandRandomnessNotResolved", "On demand randomness not resolved")

	ErrTicketAlreadyExists       = newError("TicketAlreadyExists", "Ticket with these numbers already exists")
	ErrUnauthorized              = newError("Unauthorized", "Signer is not the account authority")
	ErrAccountNotInitialized     = newError("AccountNotInitialized", "Account not initialized")
	ErrAccountAlreadyInitialized = newError("AccountAlreadyInitialized", "Account already initialized")
	ErrVaultNotEmpty             = newError("VaultNotEmpty", "Token vault not empty")
	ErrInvalidGameDuration       = newError("InvalidGameDuration", "Game duration must be positive")
)

// Errors returns every engine error in code order.
func Errors() []*Error {
	return append([]*Error(nil), registered...)
}

// ErrorCode extracts the numeric code of the engine error wrapped in err.
func ErrorCode(err error) (uint32, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return 0, false
}

// ErrorByCode returns the engine error registered under code.
func ErrorByCode(code uint32) (*Error, bool) {
	if code < ErrorCodeOffset || code >= ErrorCodeOffset+uint32(len(registered)) {
		return nil, false
	}
	return registered[code-ErrorCodeOffset], true
}

// wrap attaches detail to an engine error.
func wrap(e *Error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", e, fmt.Sprintf(format, args...))
}

// fromLedger translates token ledger failures into engine errors.
func fromLedger(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
	case errors.Is(err, ledger.ErrOwnerMismatch), errors.Is(err, ledger.ErrMintMismatch):
		return fmt.Errorf("%w: %v", ErrTokenAccountAuthorityMismatch, err)
	case errors.Is(err, ledger.ErrOverflow):
		return fmt.Errorf("%w: %v", ErrOverflowError, err)
	case errors.Is(err, ledger.ErrAccountNotFound):
		return fmt.Errorf("%w: %v", ErrAccountNotInitialized, err)
	case errors.Is(err, ledger.ErrAccountExists):
		return fmt.Errorf("%w: %v", ErrAccountAlreadyInitialized, err)
	case errors.Is(err, ledger.ErrNonZeroBalance):
		return fmt.Errorf("%w: %v", ErrVaultNotEmpty, err)
	}
	return err
}
