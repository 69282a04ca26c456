package lending

import "math/big"

// Hook receives one-way notifications after loan state transitions have been
// finalised. Return values are acknowledgments only: the engine never rolls a
// transition back on hook failure, and a misbehaving hook cannot block loan
// creation, repayment or liquidation.
type Hook interface {
	AfterLoanCreated(borrower [20]byte, loanID uint64, principal *big.Int, collateralAsset string, collateralQuantity *big.Int) error
	AfterLoanRepaid(borrower [20]byte, loanID uint64, interest *big.Int) error
	AfterLoanLiquidated(liquidator [20]byte, loanID uint64) error
}

// NoopHook satisfies the Hook interface while ignoring all notifications.
type NoopHook struct{}

func (NoopHook) AfterLoanCreated([20]byte, uint64, *big.Int, string, *big.Int) error { return nil }

func (NoopHook) AfterLoanRepaid([20]byte, uint64, *big.Int) error { return nil }

func (NoopHook) AfterLoanLiquidated([20]byte, uint64) error { return nil }
