package settlement

import (
	"bytes"
	"math/big"

	"fxchain/crypto"
	"fxchain/native/liquidity"
)

// TicketClaim reports a fulfilled redemption ticket: the amount paid to the
// owner and the operation fee paid to a delegate claimer, if any.
type TicketClaim struct {
	Paid *big.Int
	Fee  *big.Int
}

// ClaimTicket fulfils a queued redemption ticket. The payout comes from the
// liquid buffer first, then from the not-yet-staked pending queue, and only
// the remainder is split out of the active yield-bearing position. On
// delegate-enabled tickets a claimer other than the owner earns the ticket's
// operation fee out of the payout.
func (e *Engine) ClaimTicket(caller crypto.Address, ticketID string) (*TicketClaim, error) {
	state, err := e.loadState()
	if err != nil {
		return nil, err
	}
	if err := e.guardUser(state); err != nil {
		return nil, err
	}

	ticket, err := e.state.GetTicket(ticketID)
	if err != nil {
		return nil, err
	}
	if ticket == nil {
		return nil, ErrTicketNotFound
	}
	if e.now().UnixMilli() > ticket.ExpiresAt {
		return nil, ErrTicketExpired
	}

	owed := new(big.Int).Set(ticket.Amount)
	if state.Buffer.Cmp(owed) < 0 {
		shortfall := new(big.Int).Sub(owed, state.Buffer)
		if e.liquidity == nil {
			return nil, ErrInsufficientReserve
		}
		stake, err := e.liquidity.Snapshot()
		if err != nil {
			return nil, err
		}
		fromPending := stake.PendingTotal()
		if fromPending.Cmp(shortfall) > 0 {
			fromPending = new(big.Int).Set(shortfall)
		}
		fromActive := new(big.Int).Sub(shortfall, fromPending)
		if fromActive.Sign() > 0 &&
			(stake.Active == nil || stake.Active.Principal == nil || stake.Active.Principal.Cmp(fromActive) < 0) {
			return nil, liquidity.ErrNoActiveStake
		}
		if fromPending.Sign() > 0 {
			entries, err := e.liquidity.WithdrawFromPending(fromPending)
			if err != nil {
				return nil, err
			}
			state.Buffer = new(big.Int).Add(state.Buffer, fromPending)
			e.emit(liquidity.NewPendingWithdrawnEvent(fromPending, len(entries)))
		}
		if fromActive.Sign() > 0 {
			split, err := e.liquidity.SplitActive(fromActive)
			if err != nil {
				return nil, err
			}
			state.Buffer = new(big.Int).Add(state.Buffer, split)
			e.emit(liquidity.NewActiveSplitEvent(split))
		}
	}
	state.Buffer = new(big.Int).Sub(state.Buffer, owed)

	claim := &TicketClaim{Paid: owed, Fee: big.NewInt(0)}
	if ticket.Delegated && ticket.OperationFee != nil && ticket.OperationFee.Sign() > 0 &&
		!bytes.Equal(caller.Bytes(), ticket.Owner.Bytes()) {
		fee := new(big.Int).Set(ticket.OperationFee)
		if fee.Cmp(owed) > 0 {
			fee = new(big.Int).Set(owed)
		}
		claim.Fee = fee
		claim.Paid = new(big.Int).Sub(owed, fee)
	}

	if err := e.state.DeleteTicket(ticket.ID); err != nil {
		return nil, err
	}
	if err := e.state.PutProtocolState(state); err != nil {
		return nil, err
	}
	e.emit(NewTicketClaimedEvent(ticket, caller, claim))
	return claim, nil
}

// ReclaimExpiredTicket destroys a ticket past its expiration. Nobody is paid;
// the owed amount simply returns to the tracked reserve, reversing the debit
// taken when the ticket was queued. Callable by anyone.
func (e *Engine) ReclaimExpiredTicket(caller crypto.Address, ticketID string) error {
	state, err := e.loadState()
	if err != nil {
		return err
	}
	if err := e.guardUser(state); err != nil {
		return err
	}

	ticket, err := e.state.GetTicket(ticketID)
	if err != nil {
		return err
	}
	if ticket == nil {
		return ErrTicketNotFound
	}
	if e.now().UnixMilli() <= ticket.ExpiresAt {
		return ErrTicketNotYetExpired
	}

	state.ReserveBalance = new(big.Int).Add(state.ReserveBalance, ticket.Amount)
	e.recomputePx(state)

	if err := e.state.DeleteTicket(ticket.ID); err != nil {
		return err
	}
	if err := e.state.PutProtocolState(state); err != nil {
		return err
	}
	e.emit(NewTicketReclaimedEvent(ticket, caller))
	return nil
}
