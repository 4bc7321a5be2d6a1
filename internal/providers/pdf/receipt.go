package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// ReceiptData is a payment receipt with every amount already formatted.
type ReceiptData struct {
	StoreName     string
	StoreEmail    string
	ReceiptNumber string
	OrderNumber   string
	DatePaid      string
	PaymentMethod string
	Gateway       string
	TransactionID string

	BillToName    string
	BillToAddress string
	BillToEmail   string

	ShipToName    string
	ShipToAddress string

	Items []ReceiptItem

	Subtotal string
	Shipping string
	Tax      string
	Total    string
	Refunded string
}

type ReceiptItem struct {
	Description string
	Qty         int
	UnitPrice   string
	Amount      string
}

func (p *PDFProvider) GenerateReceipt(ctx context.Context, receipt ReceiptData) (io.Reader, error) {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(20,
		text.NewCol(6, "Receipt", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		col.New(6).Add(
			text.New(receipt.StoreName, props.Text{Style: fontstyle.Bold, Align: align.Right}),
			text.New(receipt.StoreEmail, props.Text{Top: 5, Align: align.Right}),
		),
	)

	m.AddRow(25,
		col.New(6).Add(
			text.New("Receipt number: "+receipt.ReceiptNumber, props.Text{Top: 0}),
			text.New("Order number: "+receipt.OrderNumber, props.Text{Top: 4}),
			text.New("Date paid: "+receipt.DatePaid, props.Text{Top: 8}),
		),
		col.New(6).Add(
			text.New("Paid with: "+receipt.PaymentMethod, props.Text{Top: 0}),
			text.New("Gateway: "+receipt.Gateway, props.Text{Top: 4}),
			text.New("Transaction: "+receipt.TransactionID, props.Text{Top: 8}),
		),
	)

	m.AddRow(35,
		col.New(6).Add(
			text.New("Bill to", props.Text{Style: fontstyle.Bold}),
			text.New(receipt.BillToName, props.Text{Top: 5}),
			text.New(receipt.BillToAddress, props.Text{Top: 9}),
			text.New(receipt.BillToEmail, props.Text{Top: 25}),
		),
		col.New(6).Add(
			text.New("Ship to", props.Text{Style: fontstyle.Bold}),
			text.New(receipt.ShipToName, props.Text{Top: 5}),
			text.New(receipt.ShipToAddress, props.Text{Top: 9}),
		),
	)

	m.AddRow(15,
		text.NewCol(12, receipt.Total+" paid on "+receipt.DatePaid, props.Text{
			Size:  14,
			Style: fontstyle.Bold,
			Top:   5,
		}),
	)

	m.AddRow(10,
		text.NewCol(6, "Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Qty", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Unit price", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)

	for _, item := range receipt.Items {
		m.AddRow(10,
			text.NewCol(6, item.Description, props.Text{Size: 9}),
			text.NewCol(2, fmt.Sprintf("%d", item.Qty), props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, item.UnitPrice, props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, item.Amount, props.Text{Size: 9, Align: align.Right}),
		)
	}

	totals := [][2]string{
		{"Subtotal", receipt.Subtotal},
		{"Shipping", receipt.Shipping},
		{"Tax", receipt.Tax},
		{"Total", receipt.Total},
	}
	if receipt.Refunded != "" {
		totals = append(totals, [2]string{"Refunded", receipt.Refunded})
	}
	for _, line := range totals {
		m.AddRow(8,
			col.New(8),
			text.NewCol(2, line[0], props.Text{Size: 9}),
			text.NewCol(2, line[1], props.Text{Size: 9, Align: align.Right}),
		)
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}

	return bytes.NewReader(doc.GetBytes()), nil
}
