package okx

import "github.com/openfolio/venuelink/internal/schema"

type envelope struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

type balanceResponse struct {
	Code string        `json:"code"`
	Msg  string        `json:"msg"`
	Data []balanceData `json:"data"`
}

type balanceData struct {
	Details []balanceDetail `json:"details"`
}

type balanceDetail struct {
	Ccy       string `json:"ccy"`
	AvailBal  string `json:"availBal"`
	FrozenBal string `json:"frozenBal"`
	Eq        string `json:"eq"`
	EqUsd     string `json:"eqUsd"`
}

type positionsResponse struct {
	Code string        `json:"code"`
	Msg  string        `json:"msg"`
	Data []positionRow `json:"data"`
}

type positionRow struct {
	InstID      string `json:"instId"`
	InstType    string `json:"instType"`
	Pos         string `json:"pos"`
	PosSide     string `json:"posSide"`
	AvgPx       string `json:"avgPx"`
	MarkPx      string `json:"markPx"`
	Upl         string `json:"upl"`
	Lever       string `json:"lever"`
	MgnMode     string `json:"mgnMode"`
	Margin      string `json:"margin"`
	NotionalUsd string `json:"notionalUsd"`
}

type savingsResponse struct {
	Code string       `json:"code"`
	Msg  string       `json:"msg"`
	Data []savingsRow `json:"data"`
}

type savingsRow struct {
	Ccy      string `json:"ccy"`
	Amt      string `json:"amt"`
	Rate     string `json:"rate"`
	Earnings string `json:"earnings"`
}

type fillsResponse struct {
	Code string    `json:"code"`
	Msg  string    `json:"msg"`
	Data []fillRow `json:"data"`
}

type fillRow struct {
	TradeID string `json:"tradeId"`
	InstID  string `json:"instId"`
	Side    string `json:"side"`
	FillPx  string `json:"fillPx"`
	FillSz  string `json:"fillSz"`
	Fee     string `json:"fee"`
	FeeCcy  string `json:"feeCcy"`
	TS      string `json:"ts"`
}

type depositResponse struct {
	Code string       `json:"code"`
	Msg  string       `json:"msg"`
	Data []depositRow `json:"data"`
}

type depositRow struct {
	DepID string `json:"depId"`
	Ccy   string `json:"ccy"`
	Amt   string `json:"amt"`
	Chain string `json:"chain"`
	State string `json:"state"`
	To    string `json:"to"`
	TxID  string `json:"txId"`
	TS    string `json:"ts"`
}

type withdrawResponse struct {
	Code string        `json:"code"`
	Msg  string        `json:"msg"`
	Data []withdrawRow `json:"data"`
}

type withdrawRow struct {
	WdID  string `json:"wdId"`
	Ccy   string `json:"ccy"`
	Amt   string `json:"amt"`
	Fee   string `json:"fee"`
	Chain string `json:"chain"`
	State string `json:"state"`
	To    string `json:"to"`
	TxID  string `json:"txId"`
	TS    string `json:"ts"`
}

type fundingResponse struct {
	Code string       `json:"code"`
	Msg  string       `json:"msg"`
	Data []fundingRow `json:"data"`
}

type fundingRow struct {
	InstID          string `json:"instId"`
	FundingRate     string `json:"fundingRate"`
	NextFundingTime string `json:"nextFundingTime"`
}

// depositState folds OKX deposit states into the closed transfer status
// set: 0=waiting for confirmation, 1=confirmed, 2=credited.
func depositState(state string) schema.TransferStatus {
	switch state {
	case "2":
		return schema.TransferCompleted
	case "0", "1":
		return schema.TransferPending
	default:
		return schema.TransferPending
	}
}

// withdrawState folds OKX withdrawal states: -3=canceling, -2=canceled,
// -1=failed, 0=waiting, 1=withdrawing, 2=success.
func withdrawState(state string) schema.TransferStatus {
	switch state {
	case "2":
		return schema.TransferCompleted
	case "-2", "-3":
		return schema.TransferCancelled
	case "-1":
		return schema.TransferFailed
	case "0", "1":
		return schema.TransferPending
	default:
		return schema.TransferPending
	}
}
