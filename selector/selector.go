// Package selector decides which account updates and transactions are
// persisted. Patterns are globs over base58 ids; "*" selects everything.
// A selector with no patterns is disabled and selects nothing, matching the
// host-plugin convention that an absent selector section stores no data.
package selector

import (
	"fmt"

	"github.com/arrowglass/ledgersink/event"
	"github.com/gobwas/glob"
	"github.com/mr-tron/base58"
)

// AllVotesPattern in the transaction mentions list selects vote transactions
// without naming an account.
const AllVotesPattern = "all_votes"

func compileAll(patterns []string) (globs []glob.Glob, all bool, err error) {
	for _, pattern := range patterns {
		if pattern == "*" {
			all = true
			continue
		}
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, false, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		globs = append(globs, g)
	}
	return globs, all, nil
}

// AccountsSelector selects account updates by account id or owner id.
type AccountsSelector struct {
	accountGlobs []glob.Glob
	ownerGlobs   []glob.Glob
	selectAll    bool
}

// NewAccountsSelector compiles the configured account and owner patterns.
func NewAccountsSelector(accounts, owners []string) (*AccountsSelector, error) {
	accountGlobs, allAccounts, err := compileAll(accounts)
	if err != nil {
		return nil, err
	}
	ownerGlobs, allOwners, err := compileAll(owners)
	if err != nil {
		return nil, err
	}
	return &AccountsSelector{
		accountGlobs: accountGlobs,
		ownerGlobs:   ownerGlobs,
		selectAll:    allAccounts || allOwners,
	}, nil
}

// Enabled reports whether any account update can match.
func (s *AccountsSelector) Enabled() bool {
	return s.selectAll || len(s.accountGlobs) > 0 || len(s.ownerGlobs) > 0
}

// Match reports whether an update for pubkey/owner should be stored.
// Either the account condition or the owner condition selects it.
func (s *AccountsSelector) Match(pubkey, owner [event.PubkeySize]byte) bool {
	if s.selectAll {
		return true
	}
	if len(s.accountGlobs) > 0 {
		id := base58.Encode(pubkey[:])
		for _, g := range s.accountGlobs {
			if g.Match(id) {
				return true
			}
		}
	}
	if len(s.ownerGlobs) > 0 {
		id := base58.Encode(owner[:])
		for _, g := range s.ownerGlobs {
			if g.Match(id) {
				return true
			}
		}
	}
	return false
}

// TransactionSelector selects transactions mentioning configured accounts.
type TransactionSelector struct {
	mentionGlobs []glob.Glob
	selectAll    bool
	selectVotes  bool
}

// NewTransactionSelector compiles the configured mention patterns.
func NewTransactionSelector(mentions []string) (*TransactionSelector, error) {
	var rest []string
	selectVotes := false
	for _, m := range mentions {
		if m == AllVotesPattern {
			selectVotes = true
			continue
		}
		rest = append(rest, m)
	}
	globs, all, err := compileAll(rest)
	if err != nil {
		return nil, err
	}
	return &TransactionSelector{
		mentionGlobs: globs,
		selectAll:    all,
		selectVotes:  selectVotes,
	}, nil
}

// Enabled reports whether any transaction can match.
func (s *TransactionSelector) Enabled() bool {
	return s.selectAll || s.selectVotes || len(s.mentionGlobs) > 0
}

// Match reports whether a transaction should be stored.
func (s *TransactionSelector) Match(isVote bool, accountKeys [][event.PubkeySize]byte) bool {
	if s.selectAll {
		return true
	}
	if isVote && s.selectVotes {
		return true
	}
	for _, key := range accountKeys {
		id := base58.Encode(key[:])
		for _, g := range s.mentionGlobs {
			if g.Match(id) {
				return true
			}
		}
	}
	return false
}
