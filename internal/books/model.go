package books

import "github.com/shopspring/decimal"

type Cover string

const (
	CoverHard Cover = "HARD"
	CoverSoft Cover = "SOFT"
)

// Book は books テーブルの1行を表す
type Book struct {
	BookID    uint64          `json:"id"`
	Title     string          `json:"title"`
	Author    string          `json:"author"`
	Cover     Cover           `json:"cover"`
	Inventory uint            `json:"inventory"`
	DailyFee  decimal.Decimal `json:"daily_fee"`
}
