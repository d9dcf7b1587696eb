package binance

import "github.com/openfolio/venuelink/internal/schema"

type accountResponse struct {
	Balances []accountBalance `json:"balances"`
}

type accountBalance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

type futuresBalance struct {
	Asset              string `json:"asset"`
	Balance            string `json:"balance"`
	AvailableBalance   string `json:"availableBalance"`
	CrossUnPnl         string `json:"crossUnPnl"`
	MarginAvailable    bool   `json:"marginAvailable"`
	UpdateTimeMillis   int64  `json:"updateTime"`
	CrossWalletBalance string `json:"crossWalletBalance"`
}

type positionRisk struct {
	Symbol           string `json:"symbol"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	MarkPrice        string `json:"markPrice"`
	UnRealizedProfit string `json:"unRealizedProfit"`
	Leverage         string `json:"leverage"`
	MarginType       string `json:"marginType"`
	IsolatedMargin   string `json:"isolatedMargin"`
	Notional         string `json:"notional"`
}

type earnPositionRow struct {
	Asset       string `json:"asset"`
	TotalAmount string `json:"totalAmount"`
	ProductID   string `json:"productId"`
	LatestAPR   string `json:"latestAnnualPercentageRate"`
	CanRedeem   bool   `json:"canRedeem"`
}

type earnPositionResponse struct {
	Rows []earnPositionRow `json:"rows"`
}

type myTrade struct {
	ID              int64  `json:"id"`
	Symbol          string `json:"symbol"`
	Price           string `json:"price"`
	Qty             string `json:"qty"`
	Commission      string `json:"commission"`
	CommissionAsset string `json:"commissionAsset"`
	Time            int64  `json:"time"`
	IsBuyer         bool   `json:"isBuyer"`
}

type depositRecord struct {
	ID         string `json:"id"`
	Amount     string `json:"amount"`
	Coin       string `json:"coin"`
	Network    string `json:"network"`
	Status     int    `json:"status"`
	Address    string `json:"address"`
	TxID       string `json:"txId"`
	InsertTime int64  `json:"insertTime"`
}

type withdrawRecord struct {
	ID             string `json:"id"`
	Amount         string `json:"amount"`
	TransactionFee string `json:"transactionFee"`
	Coin           string `json:"coin"`
	Network        string `json:"network"`
	Status         int    `json:"status"`
	Address        string `json:"address"`
	TxID           string `json:"txId"`
	ApplyTime      string `json:"applyTime"`
}

type premiumIndex struct {
	Symbol          string `json:"symbol"`
	MarkPrice       string `json:"markPrice"`
	LastFundingRate string `json:"lastFundingRate"`
	NextFundingTime int64  `json:"nextFundingTime"`
}

type listenKeyResponse struct {
	ListenKey string `json:"listenKey"`
}

// accountUpdate is the outboundAccountPosition user-stream payload.
type accountUpdate struct {
	EventType string                 `json:"e"`
	EventTime int64                  `json:"E"`
	Balances  []accountUpdateBalance `json:"B"`
}

type accountUpdateBalance struct {
	Asset  string `json:"a"`
	Free   string `json:"f"`
	Locked string `json:"l"`
}

// depositStatus folds Binance deposit status codes into the closed transfer
// status set. 0=pending, 1=success, 6=credited but cannot withdraw.
func depositStatus(code int) schema.TransferStatus {
	switch code {
	case 1:
		return schema.TransferCompleted
	case 6:
		return schema.TransferCompleted
	case 0:
		return schema.TransferPending
	default:
		return schema.TransferPending
	}
}

// withdrawStatus folds Binance withdrawal status codes: 0=email sent,
// 1=cancelled, 2=awaiting approval, 3=rejected, 4=processing, 5=failure,
// 6=completed.
func withdrawStatus(code int) schema.TransferStatus {
	switch code {
	case 6:
		return schema.TransferCompleted
	case 1:
		return schema.TransferCancelled
	case 3, 5:
		return schema.TransferFailed
	case 0, 2, 4:
		return schema.TransferPending
	default:
		return schema.TransferPending
	}
}
