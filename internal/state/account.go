package state

import (
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"executor/internal/schema"
	"executor/pkg/exception"
)

// Account mirrors the broker's view of one account. Every field is replaced
// by the latest AccountStateEvent.
type Account struct {
	id     schema.AccountID
	events []schema.AccountStateEvent

	currency              schema.Currency
	cashBalance           decimal.Decimal
	cashStartDay          decimal.Decimal
	cashActivityDay       decimal.Decimal
	marginUsedLiquidation decimal.Decimal
	marginUsedMaintenance decimal.Decimal
	marginRatio           decimal.Decimal
	marginCallStatus      string
	lastUpdated           time.Time
}

// NewAccount creates an account from its first state event.
func NewAccount(event schema.AccountStateEvent) (*Account, error) {
	if _, err := schema.NewAccountID(string(event.AccountID)); err != nil {
		return nil, err
	}
	a := &Account{id: event.AccountID}
	a.set(event)
	return a, nil
}

// Apply replaces the balances with the event values.
func (a *Account) Apply(event schema.AccountStateEvent) error {
	if event.AccountID != a.id {
		return fmt.Errorf("%w: account %s got state for %s", exception.ErrEventMismatch, a.id, event.AccountID)
	}
	a.set(event)
	return nil
}

func (a *Account) set(e schema.AccountStateEvent) {
	a.currency = e.Currency
	a.cashBalance = e.CashBalance
	a.cashStartDay = e.CashStartDay
	a.cashActivityDay = e.CashActivityDay
	a.marginUsedLiquidation = e.MarginUsedLiquidation
	a.marginUsedMaintenance = e.MarginUsedMaintenance
	a.marginRatio = e.MarginRatio
	a.marginCallStatus = e.MarginCallStatus
	a.lastUpdated = e.Timestamp
	a.events = append(a.events, e)
}

func (a *Account) ID() schema.AccountID { return a.id }

func (a *Account) Currency() schema.Currency { return a.currency }

func (a *Account) CashBalance() decimal.Decimal { return a.cashBalance }

func (a *Account) CashStartDay() decimal.Decimal { return a.cashStartDay }

func (a *Account) CashActivityDay() decimal.Decimal { return a.cashActivityDay }

func (a *Account) MarginUsedLiquidation() decimal.Decimal { return a.marginUsedLiquidation }

func (a *Account) MarginUsedMaintenance() decimal.Decimal { return a.marginUsedMaintenance }

func (a *Account) MarginRatio() decimal.Decimal { return a.marginRatio }

func (a *Account) MarginCallStatus() string { return a.marginCallStatus }

func (a *Account) LastUpdated() time.Time { return a.lastUpdated }

// FreeEquity is the cash not tied up as margin, floored at zero.
func (a *Account) FreeEquity() decimal.Decimal {
	free := a.cashBalance.Sub(a.marginUsedMaintenance.Add(a.marginUsedLiquidation))
	return decimal.Max(free, decimal.Zero)
}

func (a *Account) Events() []schema.AccountStateEvent { return slices.Clone(a.events) }

func (a *Account) LastEvent() schema.AccountStateEvent { return a.events[len(a.events)-1] }

func (a *Account) EventCount() int { return len(a.events) }

func (a *Account) String() string {
	return fmt.Sprintf("Account(%s, %s %s)", a.id, a.cashBalance, a.currency)
}
