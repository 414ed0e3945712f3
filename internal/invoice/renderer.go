package invoice

import (
	"bytes"
	"fmt"
	"text/tabwriter"
	"time"
)

// TextRenderer renders an invoice as a plain-text document. The byte
// stream it returns is what callers hand to storage or email; swapping in
// a PDF renderer means implementing Renderer, nothing more.
type TextRenderer struct{}

// NewTextRenderer creates a plain-text renderer.
func NewTextRenderer() *TextRenderer {
	return &TextRenderer{}
}

// Render implements Renderer.
func (r *TextRenderer) Render(inv *Invoice, items []*LineItem, taxes []*TaxLine) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "INVOICE %s\n", inv.Number)
	fmt.Fprintf(&buf, "Issued: %s\n", inv.IssuedAt.Format(time.DateOnly))
	fmt.Fprintf(&buf, "Proposal: %s\n", inv.ProposalID)
	fmt.Fprintf(&buf, "Bill to: %s\n", inv.BrandID)
	fmt.Fprintf(&buf, "Payable to: %s\n\n", inv.InfluencerID)

	w := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tDescription\tQty\tAmount")
	for _, item := range items {
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", item.Position, item.Description, item.Quantity, item.Amount)
	}
	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("rendering line items: %w", err)
	}

	fmt.Fprintf(&buf, "\nSubtotal:\t%s\n", inv.Subtotal)
	for _, line := range taxes {
		fmt.Fprintf(&buf, "Tax (%s, %.2f%%):\t%s\n", line.Jurisdiction, float64(line.RateBps)/100, line.Amount)
	}
	fmt.Fprintf(&buf, "Total:\t%s\n", inv.Total)
	fmt.Fprintf(&buf, "Paid:\t%s\n", inv.Paid)
	fmt.Fprintf(&buf, "Status:\t%s\n", inv.Status)

	return buf.Bytes(), nil
}
