package handler

import (
	"fmt"

	"github.com/skip2/go-qrcode"

	"github.com/rl1809/pos-engine/internal/core/domain"
)

const receiptQRSize = 256

func receiptText(o *domain.Order) string {
	paid, change := "0.00", "0.00"
	if o.PaymentAmount != nil {
		paid = money(*o.PaymentAmount)
	}
	if o.ChangeAmount != nil {
		change = money(*o.ChangeAmount)
	}
	return fmt.Sprintf("%s|total=%s|paid=%s|change=%s|method=%s",
		o.OrderNumber, money(o.TotalAmount), paid, change, o.PaymentMethod)
}

// receiptQR renders the receipt summary of a paid order as a PNG QR code.
func receiptQR(o *domain.Order) ([]byte, error) {
	return qrcode.Encode(receiptText(o), qrcode.Medium, receiptQRSize)
}
