// Package receipt renders a settled sale for the three output channels a
// terminal needs: browser print (HTML), thermal printer (ESC/POS) and
// download/archive (PDF). Amounts are rounded to two decimals here and only
// here; upstream arithmetic keeps full float precision.
package receipt

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html/template"
	"strings"

	"github.com/jung-kurt/gofpdf"

	"tiendapos/backend/internal/domain"
)

// htmlTmpl renders the printable receipt. All user-controlled fields are
// auto-escaped by html/template to prevent XSS.
var htmlTmpl = template.Must(template.New("receipt").Parse(`<!doctype html>
<html>
<head>
  <meta charset="utf-8" />
  <title>{{.Sale.Series}}-{{.Sale.Number}}</title>
  <style>
    body { font-family: monospace; width: 280px; margin: 8px auto; font-size: 12px; }
    .center { text-align: center; }
    .right { text-align: right; }
    table { width: 100%; border-collapse: collapse; }
    td { padding: 1px 0; }
    hr { border: none; border-top: 1px dashed #000; }
  </style>
</head>
<body>
  <div class="center">
    <strong>{{.Company.Name}}</strong><br />
    RUC {{.Company.RUC}}<br />
    {{.Company.Address}}<br />
    {{if .Company.Phone}}{{.Company.Phone}}<br />{{end}}
  </div>
  <hr />
  <div class="center">BOLETA DE VENTA ELECTRONICA<br /><strong>{{.Sale.Series}}-{{.Sale.Number}}</strong></div>
  <hr />
  <p>
    Fecha: {{.Sale.SaleDate.Format "2006-01-02 15:04"}}<br />
    Cliente: {{.Customer.Name}}<br />
    {{.Customer.DocumentType}}: {{.Customer.DocumentNumber}}
  </p>
  <hr />
  <table>
    <tbody>
      {{range .Sale.Items}}
      <tr><td colspan="2">{{.Name}}</td></tr>
      <tr>
        <td>{{printf "%.2f" .Quantity}} x {{printf "%.2f" .UnitPrice}}{{if .DiscountPct}} (-{{printf "%.0f" .DiscountPct}}%){{end}}</td>
        <td class="right">{{printf "%.2f" .Total}}</td>
      </tr>
      {{end}}
    </tbody>
  </table>
  <hr />
  <table>
    <tbody>
      <tr><td>Subtotal</td><td class="right">{{printf "%.2f" .Sale.Subtotal}}</td></tr>
      {{if .Sale.DiscountAmount}}<tr><td>Descuento</td><td class="right">{{printf "%.2f" .Sale.DiscountAmount}}</td></tr>{{end}}
      <tr><td>IGV</td><td class="right">{{printf "%.2f" .Sale.TaxAmount}}</td></tr>
      <tr><td><strong>TOTAL</strong></td><td class="right"><strong>{{printf "%.2f" .Sale.Total}}</strong></td></tr>
    </tbody>
  </table>
  <hr />
  <table>
    <tbody>
      {{range .Sale.Payments}}
      <tr><td>{{.Type}}</td><td class="right">{{printf "%.2f" .Amount}}</td></tr>
      {{end}}
    </tbody>
  </table>
  {{if .QRCode}}<p class="center" style="word-break: break-all;">{{.QRCode}}</p>{{end}}
  <div class="center">Gracias por su compra</div>
</body>
</html>
`))

func HTML(data domain.ReceiptData) (string, error) {
	var buf bytes.Buffer
	if err := htmlTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// textLines lays out the 32-column thermal format shared by the ESC/POS and
// preview outputs.
func textLines(data domain.ReceiptData) []string {
	sale := data.Sale
	lines := []string{
		data.Company.Name,
		"RUC " + data.Company.RUC,
		data.Company.Address,
		"================================",
		"BOLETA " + sale.Series + "-" + sale.Number,
		"Fecha: " + sale.SaleDate.Format("2006-01-02 15:04"),
		"Cliente: " + data.Customer.Name,
		fmt.Sprintf("%s: %s", data.Customer.DocumentType, data.Customer.DocumentNumber),
		"--------------------------------",
	}
	for _, item := range sale.Items {
		lines = append(lines, item.Name)
		qty := fmt.Sprintf("%.2f x %.2f", item.Quantity, item.UnitPrice)
		if item.DiscountPct > 0 {
			qty += fmt.Sprintf(" -%.0f%%", item.DiscountPct)
		}
		lines = append(lines, fmt.Sprintf("%-22s%10.2f", qty, item.Total))
	}
	lines = append(lines,
		"--------------------------------",
		fmt.Sprintf("%-22s%10.2f", "Subtotal", sale.Subtotal),
	)
	if sale.DiscountAmount > 0 {
		lines = append(lines, fmt.Sprintf("%-22s%10.2f", "Descuento", sale.DiscountAmount))
	}
	lines = append(lines,
		fmt.Sprintf("%-22s%10.2f", "IGV", sale.TaxAmount),
		fmt.Sprintf("%-22s%10.2f", "TOTAL", sale.Total),
		"--------------------------------",
	)
	for _, payment := range sale.Payments {
		lines = append(lines, fmt.Sprintf("%-22s%10.2f", payment.Type, payment.Amount))
	}
	if data.QRCode != "" {
		lines = append(lines, "", data.QRCode)
	}
	lines = append(lines, "================================", "Gracias por su compra", "")
	return lines
}

// Preview returns the plain-text rendering used by terminal previews.
func Preview(data domain.ReceiptData) string {
	return strings.Join(textLines(data), "\n")
}

// EscposBase64 returns the raw printer job: init, the text body, and a
// partial-cut command, base64-encoded for transport to the printer bridge.
func EscposBase64(data domain.ReceiptData) string {
	escpos := []byte{0x1b, 0x40}
	for _, line := range textLines(data) {
		escpos = append(escpos, []byte(line)...)
		escpos = append(escpos, '\n')
	}
	escpos = append(escpos, []byte{0x1d, 0x56, 0x41, 0x10}...)
	return base64.StdEncoding.EncodeToString(escpos)
}

// PDF renders the receipt as an 80mm-roll PDF document.
func PDF(data domain.ReceiptData) ([]byte, error) {
	sale := data.Sale

	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		UnitStr: "mm",
		Size:    gofpdf.SizeType{Wd: 80, Ht: 200},
	})
	pdf.SetMargins(5, 5, 5)
	pdf.AddPage()

	pdf.SetFont("Courier", "B", 10)
	pdf.CellFormat(70, 5, data.Company.Name, "", 1, "C", false, 0, "")
	pdf.SetFont("Courier", "", 8)
	pdf.CellFormat(70, 4, "RUC "+data.Company.RUC, "", 1, "C", false, 0, "")
	pdf.CellFormat(70, 4, data.Company.Address, "", 1, "C", false, 0, "")
	pdf.Ln(2)

	pdf.SetFont("Courier", "B", 9)
	pdf.CellFormat(70, 4, "BOLETA "+sale.Series+"-"+sale.Number, "", 1, "C", false, 0, "")
	pdf.SetFont("Courier", "", 8)
	pdf.CellFormat(70, 4, "Fecha: "+sale.SaleDate.Format("2006-01-02 15:04"), "", 1, "L", false, 0, "")
	pdf.CellFormat(70, 4, "Cliente: "+data.Customer.Name, "", 1, "L", false, 0, "")
	pdf.CellFormat(70, 4, data.Customer.DocumentType+": "+data.Customer.DocumentNumber, "", 1, "L", false, 0, "")
	pdf.Ln(2)

	for _, item := range sale.Items {
		pdf.CellFormat(70, 4, item.Name, "", 1, "L", false, 0, "")
		detail := fmt.Sprintf("%.2f x %.2f", item.Quantity, item.UnitPrice)
		if item.DiscountPct > 0 {
			detail += fmt.Sprintf(" -%.0f%%", item.DiscountPct)
		}
		pdf.CellFormat(45, 4, detail, "", 0, "L", false, 0, "")
		pdf.CellFormat(25, 4, fmt.Sprintf("%.2f", item.Total), "", 1, "R", false, 0, "")
	}
	pdf.Ln(2)

	writeTotal := func(label string, amount float64, bold bool) {
		style := ""
		if bold {
			style = "B"
		}
		pdf.SetFont("Courier", style, 8)
		pdf.CellFormat(45, 4, label, "", 0, "L", false, 0, "")
		pdf.CellFormat(25, 4, fmt.Sprintf("%.2f", amount), "", 1, "R", false, 0, "")
	}
	writeTotal("Subtotal", sale.Subtotal, false)
	if sale.DiscountAmount > 0 {
		writeTotal("Descuento", sale.DiscountAmount, false)
	}
	writeTotal("IGV", sale.TaxAmount, false)
	writeTotal("TOTAL", sale.Total, true)

	pdf.SetFont("Courier", "", 8)
	pdf.Ln(2)
	for _, payment := range sale.Payments {
		pdf.CellFormat(45, 4, payment.Type, "", 0, "L", false, 0, "")
		pdf.CellFormat(25, 4, fmt.Sprintf("%.2f", payment.Amount), "", 1, "R", false, 0, "")
	}

	if data.QRCode != "" {
		pdf.Ln(2)
		pdf.SetFont("Courier", "", 6)
		pdf.MultiCell(70, 3, data.QRCode, "", "C", false)
	}

	pdf.Ln(2)
	pdf.SetFont("Courier", "", 8)
	pdf.CellFormat(70, 4, "Gracias por su compra", "", 1, "C", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
