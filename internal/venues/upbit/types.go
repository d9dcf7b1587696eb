package upbit

import (
	"strings"

	"github.com/openfolio/venuelink/internal/schema"
)

type account struct {
	Currency     string `json:"currency"`
	Balance      string `json:"balance"`
	Locked       string `json:"locked"`
	AvgBuyPrice  string `json:"avg_buy_price"`
	UnitCurrency string `json:"unit_currency"`
}

type closedOrder struct {
	UUID           string `json:"uuid"`
	Market         string `json:"market"`
	Side           string `json:"side"`
	Price          string `json:"price"`
	Volume         string `json:"volume"`
	ExecutedVolume string `json:"executed_volume"`
	PaidFee        string `json:"paid_fee"`
	State          string `json:"state"`
	CreatedAt      string `json:"created_at"`
}

type depositRecord struct {
	UUID      string `json:"uuid"`
	Currency  string `json:"currency"`
	NetType   string `json:"net_type"`
	Amount    string `json:"amount"`
	Fee       string `json:"fee"`
	State     string `json:"state"`
	TxID      string `json:"txid"`
	CreatedAt string `json:"created_at"`
}

type withdrawRecord struct {
	UUID      string `json:"uuid"`
	Currency  string `json:"currency"`
	NetType   string `json:"net_type"`
	Amount    string `json:"amount"`
	Fee       string `json:"fee"`
	State     string `json:"state"`
	TxID      string `json:"txid"`
	CreatedAt string `json:"created_at"`
}

type apiError struct {
	Error struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"error"`
}

// depositState folds Upbit deposit states into the closed transfer set.
func depositState(state string) schema.TransferStatus {
	switch strings.ToUpper(state) {
	case "ACCEPTED":
		return schema.TransferCompleted
	case "REJECTED":
		return schema.TransferFailed
	case "CANCELED", "CANCELLED":
		return schema.TransferCancelled
	default:
		return schema.TransferPending
	}
}

// withdrawState folds Upbit withdrawal states into the closed transfer set.
func withdrawState(state string) schema.TransferStatus {
	switch strings.ToUpper(state) {
	case "DONE":
		return schema.TransferCompleted
	case "REJECTED", "FAILED":
		return schema.TransferFailed
	case "CANCELED", "CANCELLED":
		return schema.TransferCancelled
	default:
		return schema.TransferPending
	}
}
