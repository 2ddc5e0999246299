package audit

import (
	"strings"
	"testing"
	"time"

	"github.com/Mohsinsiddi/w3ico/internal/amount"
	"github.com/Mohsinsiddi/w3ico/internal/sale"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleLog() []sale.Event {
	at := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	buyer := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	return []sale.Event{
		{Seq: 1, ID: "a", Kind: sale.EventWhitelistAdd, At: at, Addresses: []common.Address{buyer}},
		{Seq: 2, ID: "b", Kind: sale.EventPurchase, At: at, Account: buyer, Quantity: amount.Whole(1000), Payment: amount.Whole(1)},
	}
}

func TestLogCIDIsStable(t *testing.T) {
	a, err := LogCID(sampleLog())
	require.NoError(t, err)
	b, err := LogCID(sampleLog())
	require.NoError(t, err)

	assert.True(t, a.Equals(b))
	assert.True(t, strings.HasPrefix(a.String(), "bafkrei"), a.String())
}

func TestLogCIDChangesWithContent(t *testing.T) {
	orig, err := LogCID(sampleLog())
	require.NoError(t, err)

	tampered := sampleLog()
	tampered[1].Payment = amount.Whole(2)
	changed, err := LogCID(tampered)
	require.NoError(t, err)

	assert.False(t, orig.Equals(changed))
}

func TestEncodeRejectsGaps(t *testing.T) {
	evs := sampleLog()
	evs[1].Seq = 3
	_, err := Encode(evs)
	assert.ErrorContains(t, err, "want 2")
}

func TestEmptyLog(t *testing.T) {
	data, err := Encode(nil)
	require.NoError(t, err)
	assert.Empty(t, data)

	c, err := LogCID(nil)
	require.NoError(t, err)
	ok, err := Verify(nil, c.String())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerify(t *testing.T) {
	c, err := LogCID(sampleLog())
	require.NoError(t, err)

	ok, err := Verify(sampleLog(), c.String())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Verify(sampleLog()[:1], c.String())
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = Verify(sampleLog(), "not-a-cid")
	assert.Error(t, err)
}
