package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const dateLayout = "2006-01-02"

var printer = message.NewPrinter(language.English)

// FormatMoney renders amount with the symbol of the ISO currency code.
// Unknown codes fall back to "<amount> <CODE>".
func FormatMoney(amount decimal.Decimal, code string) string {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return amount.StringFixed(2) + " " + strings.ToUpper(code)
	}
	return printer.Sprint(currency.Symbol(unit.Amount(amount.InexactFloat64())))
}

func BorrowedMessage(userEmail, bookTitle string, borrowDate, expectedReturn time.Time) Message {
	return Message{
		Kind: KindBorrowed,
		Text: fmt.Sprintf("*User*: %s,\n*Borrowed book*: %s,\n*On date*: %s,\n*With expected return on*: %s.",
			userEmail, bookTitle, borrowDate.Format(dateLayout), expectedReturn.Format(dateLayout)),
	}
}

type PaymentReceipt struct {
	PaymentID  uint64
	BookTitle  string
	UserEmail  string
	MoneyPaid  decimal.Decimal
	Currency   string
	StatusName string
}

func PaymentSucceededMessage(r PaymentReceipt) Message {
	return Message{
		Kind: KindPaymentSucceeded,
		Text: fmt.Sprintf("*Successful payment!*\n*Book title*: %s,\n*User*: %s,\n*Payment id*: %d,\n*Money paid*: %s,\n*Payment status*: %s",
			r.BookTitle, r.UserEmail, r.PaymentID, FormatMoney(r.MoneyPaid, r.Currency), r.StatusName),
	}
}

// DueBorrowing is an active borrowing whose expected return date has come.
type DueBorrowing struct {
	UserEmail          string
	BookTitle          string
	ExpectedReturnDate time.Time
}

func OverdueReport(due []DueBorrowing) Message {
	if len(due) == 0 {
		return Message{Kind: KindOverdueReport, Text: "*No borrowings overdue today!*"}
	}

	var b strings.Builder
	b.WriteString("*Today's overdue borrowings*:\n\n")
	for _, d := range due {
		fmt.Fprintf(&b, "*User*: %s,\n*Book*: %s,\n*Expected return date*: %s,\n*Actual return date*: not returned\n\n",
			d.UserEmail, d.BookTitle, d.ExpectedReturnDate.Format(dateLayout))
	}
	return Message{Kind: KindOverdueReport, Text: strings.TrimRight(b.String(), "\n")}
}
