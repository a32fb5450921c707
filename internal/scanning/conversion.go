package scanning

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"net/http"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// renderDPI is the resolution used when rasterizing PDF pages for OCR
const renderDPI = 300

// pdfToImage renders the first page of a PDF to PNG
func pdfToImage(pdfData []byte) ([]byte, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	if doc.NumPage() == 0 {
		return nil, fmt.Errorf("PDF has no pages")
	}

	// Receipts are single page; later pages are ignored
	img, err := doc.ImageDPI(0, renderDPI)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}

	return encodePNG(img)
}

// imageToPNG decodes any supported image format and re-encodes it as PNG
func imageToPNG(imageData []byte, mimeType string) ([]byte, error) {
	var img image.Image
	var err error

	if isHEICFormat(imageData) || isHEICMimeType(mimeType) {
		img, err = heic.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
	} else {
		img, _, err = image.Decode(bytes.NewReader(imageData))
		if err != nil {
			if strings.Contains(err.Error(), "unknown format") {
				return nil, fmt.Errorf("unsupported image format (supported: JPEG, PNG, GIF, HEIC, HEIF, PDF): %w", err)
			}
			return nil, fmt.Errorf("decoding image: %w", err)
		}
	}

	return encodePNG(img)
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// isHEICFormat checks for an ftyp box with a HEIC-family brand at offset 4
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}

// isHEICMimeType checks if the MIME type indicates HEIC/HEIF format
func isHEICMimeType(mimeType string) bool {
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}

// normalizeMimeType lowercases the declared type, dropping parameters, and
// sniffs the data when nothing useful was declared.
func normalizeMimeType(contentType string, data []byte) string {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		if isHEICFormat(data) {
			return "image/heic"
		}
		mimeType = http.DetectContentType(data)
		if i := strings.Index(mimeType, ";"); i >= 0 {
			mimeType = mimeType[:i]
		}
	}
	return mimeType
}

// prepareImageData converts a document into image bytes an OCR engine can
// read. PNG and JPEG pass through untouched, PDFs are rasterized and every
// other image format is converted to PNG. It returns the bytes, their MIME
// type, and whether a conversion happened.
func prepareImageData(imageData []byte, contentType string) ([]byte, string, bool, error) {
	if len(imageData) == 0 {
		return nil, "", false, fmt.Errorf("document is empty")
	}

	mimeType := normalizeMimeType(contentType, imageData)

	switch {
	case mimeType == "application/pdf":
		pngData, err := pdfToImage(imageData)
		if err != nil {
			return nil, "", false, fmt.Errorf("converting PDF to image: %w", err)
		}
		return pngData, "image/png", true, nil
	case isHEICFormat(imageData) || isHEICMimeType(mimeType):
		pngData, err := imageToPNG(imageData, mimeType)
		if err != nil {
			return nil, "", false, fmt.Errorf("converting image to PNG: %w", err)
		}
		return pngData, "image/png", true, nil
	case mimeType == "image/png", mimeType == "image/jpeg", mimeType == "image/jpg":
		return imageData, mimeType, false, nil
	default:
		pngData, err := imageToPNG(imageData, mimeType)
		if err != nil {
			return nil, "", false, fmt.Errorf("converting image to PNG: %w", err)
		}
		return pngData, "image/png", true, nil
	}
}
