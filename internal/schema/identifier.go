package schema

import (
	"fmt"
	"strings"

	"executor/pkg/exception"
)

const (
	orderIDPrefix       = "O-"
	positionIDPrefix    = "P-"
	executionIDPrefix   = "E-"
	atomicOrderIDPrefix = "AO-"
)

// OrderID identifies an order, always prefixed with "O-".
type OrderID string

// NewOrderID validates and wraps an order id.
func NewOrderID(value string) (OrderID, error) {
	if err := validatePrefixed("order id", value, orderIDPrefix); err != nil {
		return "", err
	}
	return OrderID(value), nil
}

func (id OrderID) String() string { return string(id) }

// BrokerOrderID is the id assigned to an order by the broker.
type BrokerOrderID string

// NewBrokerOrderID validates and wraps a broker order id.
func NewBrokerOrderID(value string) (BrokerOrderID, error) {
	if err := validateNotBlank("broker order id", value); err != nil {
		return "", err
	}
	return BrokerOrderID(value), nil
}

func (id BrokerOrderID) String() string { return string(id) }

// ExecutionID identifies a single execution report, prefixed with "E-".
type ExecutionID string

// NewExecutionID validates and wraps an execution id.
func NewExecutionID(value string) (ExecutionID, error) {
	if err := validatePrefixed("execution id", value, executionIDPrefix); err != nil {
		return "", err
	}
	return ExecutionID(value), nil
}

func (id ExecutionID) String() string { return string(id) }

// PositionID identifies a position, always prefixed with "P-".
type PositionID string

// NewPositionID validates and wraps a position id.
func NewPositionID(value string) (PositionID, error) {
	if err := validatePrefixed("position id", value, positionIDPrefix); err != nil {
		return "", err
	}
	return PositionID(value), nil
}

func (id PositionID) String() string { return string(id) }

// AtomicOrderID identifies an entry/stop-loss/take-profit group, prefixed with "AO-".
type AtomicOrderID string

// NewAtomicOrderID validates and wraps an atomic order id.
func NewAtomicOrderID(value string) (AtomicOrderID, error) {
	if err := validatePrefixed("atomic order id", value, atomicOrderIDPrefix); err != nil {
		return "", err
	}
	return AtomicOrderID(value), nil
}

func (id AtomicOrderID) String() string { return string(id) }

// TraderID has the form NAME-TAG, e.g. TESTER-000.
type TraderID string

// NewTraderID validates and wraps a trader id.
func NewTraderID(value string) (TraderID, error) {
	if err := validateNameTag("trader id", value); err != nil {
		return "", err
	}
	return TraderID(value), nil
}

func (id TraderID) String() string { return string(id) }

// StrategyID has the form NAME-TAG, e.g. SCALPER-01.
type StrategyID string

// NewStrategyID validates and wraps a strategy id.
func NewStrategyID(value string) (StrategyID, error) {
	if err := validateNameTag("strategy id", value); err != nil {
		return "", err
	}
	return StrategyID(value), nil
}

func (id StrategyID) String() string { return string(id) }

// AccountID has the form BROKER-NUMBER-TYPE, e.g. FXCM-02851908-SIMULATED.
type AccountID string

// NewAccountID validates and wraps an account id.
func NewAccountID(value string) (AccountID, error) {
	if err := validateNotBlank("account id", value); err != nil {
		return "", err
	}
	if strings.Count(value, "-") < 2 {
		return "", fmt.Errorf("%w: account id %q is not BROKER-NUMBER-TYPE", exception.ErrInvalidIdentifier, value)
	}
	return AccountID(value), nil
}

// Broker returns the broker part of the account id.
func (id AccountID) Broker() string {
	broker, _, _ := strings.Cut(string(id), "-")
	return broker
}

func (id AccountID) String() string { return string(id) }

func validateNotBlank(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s is blank", exception.ErrInvalidIdentifier, name)
	}
	return nil
}

func validatePrefixed(name, value, prefix string) error {
	if err := validateNotBlank(name, value); err != nil {
		return err
	}
	if !strings.HasPrefix(value, prefix) || len(value) == len(prefix) {
		return fmt.Errorf("%w: %s %q does not start with %q", exception.ErrInvalidIdentifier, name, value, prefix)
	}
	return nil
}

func validateNameTag(name, value string) error {
	if err := validateNotBlank(name, value); err != nil {
		return err
	}
	head, tag, ok := strings.Cut(value, "-")
	if !ok || head == "" || tag == "" {
		return fmt.Errorf("%w: %s %q is not NAME-TAG", exception.ErrInvalidIdentifier, name, value)
	}
	return nil
}
