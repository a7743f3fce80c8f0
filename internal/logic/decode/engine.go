package decode

import (
	"errors"
	"fmt"
	"image"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/aztec"
	"github.com/makiuchi-d/gozxing/datamatrix"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// ErrNotFound means no enabled symbology was found in the frame.
var ErrNotFound = errors.New("decode: no barcode found")

// Engine decodes a region of a luminance plane.
type Engine interface {
	Decode(lum []byte, size image.Point, region image.Rectangle, formats []Format) (Result, error)
}

var zxFormats = map[Format]gozxing.BarcodeFormat{
	Aztec:           gozxing.BarcodeFormat_AZTEC,
	Codabar:         gozxing.BarcodeFormat_CODABAR,
	Code39:          gozxing.BarcodeFormat_CODE_39,
	Code93:          gozxing.BarcodeFormat_CODE_93,
	Code128:         gozxing.BarcodeFormat_CODE_128,
	DataMatrix:      gozxing.BarcodeFormat_DATA_MATRIX,
	EAN8:            gozxing.BarcodeFormat_EAN_8,
	EAN13:           gozxing.BarcodeFormat_EAN_13,
	ITF:             gozxing.BarcodeFormat_ITF,
	MaxiCode:        gozxing.BarcodeFormat_MAXICODE,
	PDF417:          gozxing.BarcodeFormat_PDF_417,
	QRCode:          gozxing.BarcodeFormat_QR_CODE,
	RSS14:           gozxing.BarcodeFormat_RSS_14,
	RSSExpanded:     gozxing.BarcodeFormat_RSS_EXPANDED,
	UPCA:            gozxing.BarcodeFormat_UPC_A,
	UPCE:            gozxing.BarcodeFormat_UPC_E,
	UPCEANExtension: gozxing.BarcodeFormat_UPC_EAN_EXTENSION,
}

// ZXingEngine decodes with gozxing. QR codes, Data Matrix, Aztec and the
// UPC/EAN, Code 128/39/93, ITF and Codabar symbologies are read; the
// remaining formats are accepted in the format list but never reported.
type ZXingEngine struct {
	// TryHarder trades speed for accuracy.
	TryHarder bool
}

func (e ZXingEngine) Decode(lum []byte, size image.Point, region image.Rectangle, formats []Format) (Result, error) {
	src, err := gozxing.NewPlanarYUVLuminanceSource(lum, size.X, size.Y,
		region.Min.X, region.Min.Y, region.Dx(), region.Dy(), false)
	if err != nil {
		return Result{}, fmt.Errorf("luminance source: %w", err)
	}
	bmp, err := gozxing.NewBinaryBitmap(gozxing.NewHybridBinarizer(src))
	if err != nil {
		return Result{}, fmt.Errorf("binary bitmap: %w", err)
	}

	possible := make([]gozxing.BarcodeFormat, 0, len(formats))
	for _, f := range formats {
		if zf, ok := zxFormats[f]; ok {
			possible = append(possible, zf)
		}
	}
	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_POSSIBLE_FORMATS: possible,
	}
	if e.TryHarder {
		hints[gozxing.DecodeHintType_TRY_HARDER] = true
	}

	for _, reader := range readersFor(formats, hints) {
		res, err := reader.Decode(bmp, hints)
		if err != nil {
			continue
		}
		return Result{Text: res.GetText(), Format: Format(res.GetBarcodeFormat().String())}, nil
	}
	return Result{}, ErrNotFound
}

// readersFor returns one reader per enabled symbology family.
func readersFor(formats []Format, hints map[gozxing.DecodeHintType]interface{}) []gozxing.Reader {
	enabled := make(map[Format]bool, len(formats))
	linear := false
	for _, f := range formats {
		enabled[f] = true
		linear = linear || f.IsOneD()
	}
	var readers []gozxing.Reader
	if enabled[QRCode] {
		readers = append(readers, qrcode.NewQRCodeReader())
	}
	if enabled[DataMatrix] {
		readers = append(readers, datamatrix.NewDataMatrixReader())
	}
	if enabled[Aztec] {
		readers = append(readers, aztec.NewAztecReader())
	}
	if !linear {
		return readers
	}
	if enabled[EAN8] || enabled[EAN13] || enabled[UPCA] || enabled[UPCE] {
		readers = append(readers, oned.NewMultiFormatUPCEANReader(hints))
	}
	if enabled[Code128] {
		readers = append(readers, oned.NewCode128Reader())
	}
	if enabled[Code39] {
		readers = append(readers, oned.NewCode39Reader())
	}
	if enabled[Code93] {
		readers = append(readers, oned.NewCode93Reader())
	}
	if enabled[ITF] {
		readers = append(readers, oned.NewITFReader())
	}
	if enabled[Codabar] {
		readers = append(readers, oned.NewCodaBarReader())
	}
	return readers
}
