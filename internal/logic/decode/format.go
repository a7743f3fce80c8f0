package decode

import (
	"fmt"
	"strings"
)

// Format is a barcode symbology, named as ZXing names it.
type Format string

const (
	Aztec           Format = "AZTEC"
	Codabar         Format = "CODABAR"
	Code39          Format = "CODE_39"
	Code93          Format = "CODE_93"
	Code128         Format = "CODE_128"
	DataMatrix      Format = "DATA_MATRIX"
	EAN8            Format = "EAN_8"
	EAN13           Format = "EAN_13"
	ITF             Format = "ITF"
	MaxiCode        Format = "MAXICODE"
	PDF417          Format = "PDF_417"
	QRCode          Format = "QR_CODE"
	RSS14           Format = "RSS_14"
	RSSExpanded     Format = "RSS_EXPANDED"
	UPCA            Format = "UPC_A"
	UPCE            Format = "UPC_E"
	UPCEANExtension Format = "UPC_EAN_EXTENSION"
)

// AllFormats is the default format set of a new scanner.
var AllFormats = []Format{
	Aztec, Codabar, Code39, Code93, Code128, DataMatrix, EAN8, EAN13, ITF,
	MaxiCode, PDF417, QRCode, RSS14, RSSExpanded, UPCA, UPCE, UPCEANExtension,
}

// oneD lists the linear symbologies.
var oneD = map[Format]bool{
	Codabar: true, Code39: true, Code93: true, Code128: true, EAN8: true, EAN13: true,
	ITF: true, RSS14: true, RSSExpanded: true, UPCA: true, UPCE: true, UPCEANExtension: true,
}

// IsOneD reports whether f is a linear (1D) symbology.
func (f Format) IsOneD() bool { return oneD[f] }

// ParseFormat accepts ZXing names, case-insensitively, with '-' for '_'.
func ParseFormat(s string) (Format, error) {
	name := Format(strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), "-", "_"))
	for _, f := range AllFormats {
		if f == name {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown barcode format %q", s)
}

// ParseFormats parses a list; an empty list yields AllFormats.
func ParseFormats(names []string) ([]Format, error) {
	if len(names) == 0 {
		return append([]Format(nil), AllFormats...), nil
	}
	formats := make([]Format, 0, len(names))
	for _, n := range names {
		f, err := ParseFormat(n)
		if err != nil {
			return nil, err
		}
		formats = append(formats, f)
	}
	return formats, nil
}
