package dydx

import (
	"strings"

	"github.com/openfolio/venuelink/internal/schema"
)

type subaccountResponse struct {
	Subaccount subaccount `json:"subaccount"`
}

type subaccount struct {
	Address          string `json:"address"`
	SubaccountNumber int    `json:"subaccountNumber"`
	Equity           string `json:"equity"`
	FreeCollateral   string `json:"freeCollateral"`
}

type positionsResponse struct {
	Positions []positionRow `json:"positions"`
}

type positionRow struct {
	Market        string `json:"market"`
	Status        string `json:"status"`
	Side          string `json:"side"`
	Size          string `json:"size"`
	EntryPrice    string `json:"entryPrice"`
	UnrealizedPnl string `json:"unrealizedPnl"`
	CreatedAt     string `json:"createdAt"`
}

type fillsResponse struct {
	Fills []fillRow `json:"fills"`
}

type fillRow struct {
	ID        string `json:"id"`
	Market    string `json:"market"`
	Side      string `json:"side"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Fee       string `json:"fee"`
	CreatedAt string `json:"createdAt"`
}

type transfersResponse struct {
	Transfers []transferRow `json:"transfers"`
}

type transferRow struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	Symbol          string `json:"symbol"`
	Size            string `json:"size"`
	Status          string `json:"status"`
	TransactionHash string `json:"transactionHash"`
	CreatedAt       string `json:"createdAt"`
}

type marketsResponse struct {
	Markets map[string]marketRow `json:"markets"`
}

type marketRow struct {
	Ticker          string `json:"ticker"`
	OraclePrice     string `json:"oraclePrice"`
	NextFundingRate string `json:"nextFundingRate"`
}

type indexerError struct {
	Errors []struct {
		Msg string `json:"msg"`
	} `json:"errors"`
}

// transferDirection maps indexer transfer types onto the closed direction
// set; subaccount-to-subaccount moves count by their flow.
func transferDirection(typ string) (schema.TransferDirection, bool) {
	switch strings.ToUpper(typ) {
	case "DEPOSIT", "TRANSFER_IN":
		return schema.TransferDeposit, true
	case "WITHDRAWAL", "TRANSFER_OUT":
		return schema.TransferWithdrawal, true
	default:
		return "", false
	}
}

// transferStatus folds indexer transfer states into the closed status set.
// The indexer only reports settled transfers, so blanks mean completed.
func transferStatus(status string) schema.TransferStatus {
	switch strings.ToUpper(status) {
	case "", "FINALIZED", "CONFIRMED":
		return schema.TransferCompleted
	case "FAILED":
		return schema.TransferFailed
	default:
		return schema.TransferPending
	}
}
