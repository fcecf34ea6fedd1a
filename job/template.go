package job

import (
	"fmt"
	"strconv"
)

const notAvailable = "N/A"

// Bet is one line item on a receipt or slip. Unset fields are left out of
// the rendered output.
type Bet struct {
	Description       string   `json:"description,omitempty"`
	Selection         string   `json:"selection,omitempty"`
	Odds              *float64 `json:"odds,omitempty"`
	Stake             *float64 `json:"stake,omitempty"`
	PotentialWinnings *float64 `json:"potentialWinnings,omitempty"`
}

// Receipt is the inbound bet receipt record.
type Receipt struct {
	ID                     string   `json:"id,omitempty"`
	CustomerName           string   `json:"customerName,omitempty"`
	CustomerPhone          string   `json:"customerPhone,omitempty"`
	Timestamp              string   `json:"timestamp,omitempty"`
	Bets                   []Bet    `json:"bets,omitempty"`
	TotalStake             *float64 `json:"totalStake,omitempty"`
	TotalPotentialWinnings *float64 `json:"totalPotentialWinnings,omitempty"`
}

// Slip is the reduced bet slip record.
type Slip struct {
	ID         string   `json:"id,omitempty"`
	Bets       []Bet    `json:"bets,omitempty"`
	TotalStake *float64 `json:"totalStake,omitempty"`
}

// AddBetReceipt expands r into header, itemized bets and a totals block.
// Output depends only on r and the builder width.
func (b *Builder) AddBetReceipt(r Receipt) *Builder {
	b.AddText("BET RECEIPT").AddLineBreak()
	b.AddSeparator('=').AddLineBreak()
	b.line("Receipt ID: " + orNA(r.ID))
	b.line("Customer: " + orNA(r.CustomerName))
	b.line("Phone: " + orNA(r.CustomerPhone))
	b.line("Date: " + orNA(r.Timestamp))
	b.AddSeparator('-').AddLineBreak()

	b.addBets(r.Bets)

	b.AddSeparator('=').AddLineBreak()
	b.line("Total Stake: " + moneyOrNA(r.TotalStake))
	b.line("Potential Winnings: " + moneyOrNA(r.TotalPotentialWinnings))
	b.AddSeparator('=').AddLineBreak()
	b.line("Thank you for your bet!")
	b.AddLineBreak().AddLineBreak()
	return b
}

// AddBetSlip expands s into the short slip layout.
func (b *Builder) AddBetSlip(s Slip) *Builder {
	b.AddText("BET SLIP").AddLineBreak()
	b.AddSeparator('=').AddLineBreak()
	b.line("Slip ID: " + orNA(s.ID))
	b.AddSeparator('-').AddLineBreak()

	b.addBets(s.Bets)

	b.AddSeparator('=').AddLineBreak()
	b.line("Total Stake: " + moneyOrNA(s.TotalStake))
	b.AddSeparator('=').AddLineBreak()
	b.AddLineBreak().AddLineBreak()
	return b
}

func (b *Builder) addBets(bets []Bet) {
	for i, bet := range bets {
		title := strconv.Itoa(i+1) + "."
		if bet.Description != "" {
			title += " " + bet.Description
		}
		b.line(title)
		if bet.Selection != "" {
			b.line("   Selection: " + bet.Selection)
		}
		if bet.Odds != nil {
			b.line(fmt.Sprintf("   Odds: %.2f", *bet.Odds))
		}
		if bet.Stake != nil {
			b.line("   Stake: " + money(*bet.Stake))
		}
		if bet.PotentialWinnings != nil {
			b.line("   Potential Win: " + money(*bet.PotentialWinnings))
		}
	}
}

func (b *Builder) line(s string) {
	b.AddText(s).AddLineBreak()
}

func orNA(s string) string {
	if s == "" {
		return notAvailable
	}
	return s
}

func money(v float64) string {
	return fmt.Sprintf("$%.2f", v)
}

func moneyOrNA(v *float64) string {
	if v == nil {
		return notAvailable
	}
	return money(*v)
}
