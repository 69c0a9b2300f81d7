package application

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swapflow/internal/service/order/domain"
)

func TestAdmissionPolicy_Default(t *testing.T) {
	p, err := NewAdmissionPolicy("  ")
	require.NoError(t, err)
	assert.Equal(t, DefaultAdmissionRule, p.Expression())

	ok := domain.Payload{SourceAsset: "SOL", DestAsset: "USDC", Amount: d("1"), Slippage: d("0.01")}
	assert.NoError(t, p.Admit(ok))

	wide := ok
	wide.Slippage = d("0.6")
	assert.ErrorIs(t, p.Admit(wide), domain.ErrRejectedByPolicy)
}

func TestAdmissionPolicy_CustomRule(t *testing.T) {
	p, err := NewAdmissionPolicy(`source_asset in ["SOL", "USDC"] && amount < 1000.0`)
	require.NoError(t, err)

	assert.NoError(t, p.Admit(domain.Payload{SourceAsset: "SOL", DestAsset: "BONK", Amount: d("10")}))
	assert.ErrorIs(t, p.Admit(domain.Payload{SourceAsset: "BONK", DestAsset: "SOL", Amount: d("10")}), domain.ErrRejectedByPolicy)
	assert.ErrorIs(t, p.Admit(domain.Payload{SourceAsset: "SOL", DestAsset: "BONK", Amount: d("5000")}), domain.ErrRejectedByPolicy)
}

func TestAdmissionPolicy_InvalidRules(t *testing.T) {
	_, err := NewAdmissionPolicy(`amount +`)
	assert.Error(t, err, "syntax error")

	_, err = NewAdmissionPolicy(`amount * 2.0`)
	assert.Error(t, err, "non-bool result")

	_, err = NewAdmissionPolicy(`price > 1.0`)
	assert.Error(t, err, "undeclared variable")
}
