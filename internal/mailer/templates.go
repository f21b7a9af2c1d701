package mailer

import (
	"bytes"
	"fmt"
	"html/template"

	"checkout-service/internal/models"
)

var confirmationTmpl = template.Must(template.New("confirmation").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="UTF-8"><title>Order confirmation</title></head>
<body style="font-family: Arial, sans-serif; background-color: #f9f9f9; padding: 20px;">
	<div style="max-width: 600px; margin: auto; background-color: white; padding: 20px; border-radius: 10px;">
		<h2 style="color: #333;">Thank you for your order{{if .Name}}, {{.Name}}{{end}}</h2>
		<p>Your order <strong>{{.OrderNumber}}</strong> has been received and is {{.Status}}.</p>
		<table style="width: 100%; border-collapse: collapse; margin: 20px 0;">
			<thead>
				<tr style="background-color: #f0f0f0;">
					<th style="padding: 10px; text-align: left; border: 1px solid #ddd;">Product</th>
					<th style="padding: 10px; text-align: left; border: 1px solid #ddd;">Quantity</th>
					<th style="padding: 10px; text-align: left; border: 1px solid #ddd;">Unit price</th>
					<th style="padding: 10px; text-align: left; border: 1px solid #ddd;">Total</th>
				</tr>
			</thead>
			<tbody>
			{{range .Items}}
				<tr>
					<td style="padding: 10px; border: 1px solid #ddd;">{{.Name}}</td>
					<td style="padding: 10px; border: 1px solid #ddd;">{{.Quantity}}</td>
					<td style="padding: 10px; border: 1px solid #ddd;">{{.UnitPrice}}</td>
					<td style="padding: 10px; border: 1px solid #ddd;">{{.Subtotal}}</td>
				</tr>
			{{end}}
			</tbody>
			<tfoot>
				<tr>
					<td colspan="3" style="padding: 10px; text-align: right; font-weight: bold;">Total:</td>
					<td style="padding: 10px; font-weight: bold;">{{.Total}}</td>
				</tr>
			</tfoot>
		</table>
		<p>Delivery: {{.Delivery}} &middot; Payment: {{.Payment}}</p>
		<p style="margin-top: 30px; color: #555;">{{.StoreName}}</p>
	</div>
</body>
</html>`))

var statusTmpl = template.Must(template.New("status").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="UTF-8"><title>Order update</title></head>
<body style="font-family: Arial, sans-serif; background-color: #f5f5f5; padding: 20px;">
	<div style="max-width: 600px; margin: auto; background-color: white; padding: 20px; border-radius: 12px;">
		<h2 style="color: #333;">Order {{.OrderNumber}}</h2>
		<p>{{.Message}}</p>
		{{if .TrackingNumber}}<p>Tracking number: <strong>{{.TrackingNumber}}</strong></p>{{end}}
		<p style="margin-top: 30px; color: #555;">{{.StoreName}}</p>
	</div>
</body>
</html>`))

var codeTmpl = template.Must(template.New("code").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="UTF-8"><title>Verification code</title></head>
<body style="font-family: Arial, sans-serif; padding: 20px;">
	<p>Use this code to view order {{.OrderNumber}}:</p>
	<p style="font-size: 28px; letter-spacing: 6px; font-weight: bold;">{{.Code}}</p>
	<p>The code expires in {{.Minutes}} minutes. If you did not ask for it, ignore this email.</p>
	<p style="margin-top: 30px; color: #555;">{{.StoreName}}</p>
</body>
</html>`))

type lineView struct {
	Name      string
	Quantity  int
	UnitPrice string
	Subtotal  string
}

// RenderOrderConfirmation builds the subject and HTML body of an order confirmation
func RenderOrderConfirmation(order *models.Order, storeName string) (string, string, error) {
	lines := make([]lineView, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, lineView{
			Name:      item.ProductName,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.StringFixed(2),
			Subtotal:  item.Subtotal().StringFixed(2),
		})
	}

	name := ""
	if guest := order.Guest(); guest != nil {
		name = guest.Name
	}

	var buf bytes.Buffer
	err := confirmationTmpl.Execute(&buf, map[string]interface{}{
		"Name":        name,
		"OrderNumber": order.OrderNumber,
		"Status":      order.Status,
		"Items":       lines,
		"Total":       order.TotalAmount.StringFixed(2),
		"Delivery":    order.DeliveryOption,
		"Payment":     order.PaymentMethod,
		"StoreName":   storeName,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to render confirmation: %w", err)
	}

	subject := fmt.Sprintf("Order confirmation %s - %s", order.OrderNumber, storeName)
	return subject, buf.String(), nil
}

// RenderStatusUpdate builds the notification for an order status change
func RenderStatusUpdate(order *models.Order, storeName string) (string, string, error) {
	var buf bytes.Buffer
	err := statusTmpl.Execute(&buf, map[string]interface{}{
		"OrderNumber":    order.OrderNumber,
		"Message":        statusMessage(order.Status),
		"TrackingNumber": order.TrackingNumber.String,
		"StoreName":      storeName,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to render status update: %w", err)
	}

	subject := fmt.Sprintf("Order %s is %s - %s", order.OrderNumber, order.Status, storeName)
	return subject, buf.String(), nil
}

// RenderLookupCode builds the guest order lookup verification email
func RenderLookupCode(orderNumber, code string, minutes int, storeName string) (string, string, error) {
	var buf bytes.Buffer
	err := codeTmpl.Execute(&buf, map[string]interface{}{
		"OrderNumber": orderNumber,
		"Code":        code,
		"Minutes":     minutes,
		"StoreName":   storeName,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to render verification code: %w", err)
	}

	return fmt.Sprintf("Your verification code - %s", storeName), buf.String(), nil
}

func statusMessage(status models.OrderStatus) string {
	switch status {
	case models.OrderStatusConfirmed:
		return "Your payment was received and your order is confirmed."
	case models.OrderStatusProcessing:
		return "Your order is being prepared."
	case models.OrderStatusShipped:
		return "Your order has been shipped."
	case models.OrderStatusDelivered:
		return "Your order has been delivered."
	case models.OrderStatusCancelled:
		return "Your order has been cancelled."
	default:
		return "Your order has been updated."
	}
}
