package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIs_MatchesByKind(t *testing.T) {
	err := InsufficientFunds("balance 10 below 20")
	assert.True(t, errors.Is(err, ErrInsufficientFunds))
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestIs_ThroughWrapping(t *testing.T) {
	err := fmt.Errorf("approve txn: %w", AlreadyProcessed("txn t1 is approved"))
	assert.True(t, errors.Is(err, ErrAlreadyProcessed))
	assert.Equal(t, KindAlreadyProcessed, KindOf(err))
}

func TestKindOf_Unclassified(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, KindInternal, KindOf(nil))
}

func TestError_Message(t *testing.T) {
	err := New(KindValidation, "amount %s below minimum %s", "10", "50")
	assert.Equal(t, "amount 10 below minimum 50", err.Error())
}
