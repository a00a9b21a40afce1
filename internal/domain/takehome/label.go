package takehome

import (
	"html/template"
	"io"

	"github.com/otpcare/emr/internal/domain/patient"
)

// qrGlyphLen is how many payload characters the printable label shows in
// place of a rendered QR image.
const qrGlyphLen = 20

// LabelData is the view model for one printable bottle label.
type LabelData struct {
	PatientName   string
	ClientNumber  string
	Medication    string
	DoseAmount    string
	BottleNumber  int
	TotalBottles  int
	QRGlyph       string
	ScheduledDate string
	Expiration    string
}

// NewLabelData builds the label view for a bottle and its patient.
func NewLabelData(b *Bottle, p *patient.Patient) LabelData {
	glyph := b.QRPayload
	if len(glyph) > qrGlyphLen {
		glyph = glyph[:qrGlyphLen]
	}
	return LabelData{
		PatientName:   p.FullName(),
		ClientNumber:  p.ClientNumber,
		Medication:    b.Medication,
		DoseAmount:    b.DoseAmount.String() + " mg",
		BottleNumber:  b.BottleNumber,
		TotalBottles:  b.TotalBottles,
		QRGlyph:       glyph,
		ScheduledDate: b.ScheduledConsumeDate.Format("2006-01-02"),
		Expiration:    b.Expiration.Format("2006-01-02"),
	}
}

var labelTmpl = template.Must(template.New("label").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Take-Home Label</title>
<style>
  body { font-family: monospace; margin: 0; }
  .label { width: 3.5in; padding: 8px; border: 1px solid #000; }
  .name { font-size: 14px; font-weight: bold; }
  .qr { font-size: 11px; letter-spacing: 1px; border: 1px dashed #000; padding: 4px; margin: 6px 0; }
  .row { font-size: 12px; }
</style>
</head>
<body>
<div class="label">
  <div class="name">{{.PatientName}} ({{.ClientNumber}})</div>
  <div class="row">{{.Medication}} {{.DoseAmount}}</div>
  <div class="row">Bottle {{.BottleNumber}} of {{.TotalBottles}}</div>
  <div class="qr">{{.QRGlyph}}</div>
  <div class="row">Take on: {{.ScheduledDate}}</div>
  <div class="row">Expires: {{.Expiration}}</div>
  <div class="row">KEEP OUT OF REACH OF CHILDREN</div>
</div>
</body>
</html>
`))

// RenderLabel writes the printable HTML label.
func RenderLabel(w io.Writer, data LabelData) error {
	return labelTmpl.Execute(w, data)
}
