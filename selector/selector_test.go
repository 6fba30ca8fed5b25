package selector

import (
	"testing"

	"github.com/arrowglass/ledgersink/event"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func idOf(b byte) [event.PubkeySize]byte {
	var pk [event.PubkeySize]byte
	for i := range pk {
		pk[i] = b
	}
	return pk
}

func TestAccountsSelectorWildcard(t *testing.T) {
	s, err := NewAccountsSelector([]string{"*"}, nil)
	require.NoError(t, err)

	assert.True(t, s.Enabled())
	assert.True(t, s.Match(idOf(0x01), idOf(0x02)))
}

func TestAccountsSelectorDisabledWhenEmpty(t *testing.T) {
	s, err := NewAccountsSelector(nil, nil)
	require.NoError(t, err)

	assert.False(t, s.Enabled())
	assert.False(t, s.Match(idOf(0x01), idOf(0x02)))
}

func TestAccountsSelectorByAccountID(t *testing.T) {
	target := idOf(0x11)
	s, err := NewAccountsSelector([]string{base58.Encode(target[:])}, nil)
	require.NoError(t, err)

	assert.True(t, s.Match(target, idOf(0x00)))
	assert.False(t, s.Match(idOf(0x22), idOf(0x00)))
}

func TestAccountsSelectorByOwner(t *testing.T) {
	owner := idOf(0x33)
	s, err := NewAccountsSelector(nil, []string{base58.Encode(owner[:])})
	require.NoError(t, err)

	// Any account under the owner matches, regardless of its own id.
	assert.True(t, s.Match(idOf(0x01), owner))
	assert.True(t, s.Match(idOf(0x02), owner))
	assert.False(t, s.Match(idOf(0x01), idOf(0x44)))
}

func TestAccountsSelectorGlobPrefix(t *testing.T) {
	target := idOf(0x55)
	encoded := base58.Encode(target[:])
	s, err := NewAccountsSelector([]string{encoded[:4] + "*"}, nil)
	require.NoError(t, err)

	assert.True(t, s.Match(target, idOf(0x00)))
}

func TestAccountsSelectorRejectsBadPattern(t *testing.T) {
	_, err := NewAccountsSelector([]string{"[unclosed"}, nil)
	assert.Error(t, err)
}

func TestTransactionSelectorWildcardExcludesNothing(t *testing.T) {
	s, err := NewTransactionSelector([]string{"*"})
	require.NoError(t, err)

	assert.True(t, s.Enabled())
	assert.True(t, s.Match(false, nil))
	assert.True(t, s.Match(true, nil))
}

func TestTransactionSelectorAllVotes(t *testing.T) {
	s, err := NewTransactionSelector([]string{AllVotesPattern})
	require.NoError(t, err)

	assert.True(t, s.Enabled())
	assert.True(t, s.Match(true, nil))
	assert.False(t, s.Match(false, [][event.PubkeySize]byte{idOf(0x01)}))
}

func TestTransactionSelectorByMention(t *testing.T) {
	mentioned := idOf(0x66)
	s, err := NewTransactionSelector([]string{base58.Encode(mentioned[:])})
	require.NoError(t, err)

	assert.True(t, s.Match(false, [][event.PubkeySize]byte{idOf(0x01), mentioned}))
	assert.False(t, s.Match(false, [][event.PubkeySize]byte{idOf(0x01)}))
}

func TestTransactionSelectorDisabledWhenEmpty(t *testing.T) {
	s, err := NewTransactionSelector(nil)
	require.NoError(t, err)

	assert.False(t, s.Enabled())
	assert.False(t, s.Match(true, nil))
}
