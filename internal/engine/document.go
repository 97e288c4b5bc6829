package engine

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"os"
	"sync"

	"github.com/gen2brain/go-fitz"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/QThans/MinerU-runpod/internal/ingest"
)

// renderedPage is one page ready to send to a recognizer
type renderedPage struct {
	Image  []byte
	MIME   string
	Width  int
	Height int
}

// document is an opened input, either a PDF or a single image
type document interface {
	NumPages() int
	Render(page int) (*renderedPage, error)
	// Text returns the embedded text layer, or "" when there is none
	Text(page int) (string, error)
	Close() error
}

type renderOptions struct {
	dpi     float64
	maxSide int
	quality int
}

// openDocument picks a decoder by extension. PDFs and JPEG 2000 images go
// through MuPDF; other images use the Go decoders and fall back to MuPDF.
func openDocument(path string, ro renderOptions) (document, error) {
	if ro.dpi <= 0 {
		ro.dpi = 144
	}
	ext := ingest.ExtOf(path)
	if ext == "pdf" || ext == "jp2" {
		return openFitz(path, ro)
	}

	doc, err := openImage(path, ro)
	if err == nil {
		return doc, nil
	}
	if fd, ferr := openFitz(path, ro); ferr == nil {
		return fd, nil
	}
	return nil, err
}

type fitzDocument struct {
	doc  *fitz.Document
	ro   renderOptions
	mu   sync.Mutex
	once sync.Once
}

func openFitz(path string, ro renderOptions) (*fitzDocument, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	if doc.NumPage() == 0 {
		doc.Close()
		return nil, fmt.Errorf("document has no pages")
	}
	return &fitzDocument{doc: doc, ro: ro}, nil
}

func (d *fitzDocument) NumPages() int { return d.doc.NumPage() }

func (d *fitzDocument) Render(page int) (*renderedPage, error) {
	d.mu.Lock()
	img, err := d.doc.ImageDPI(page, d.ro.dpi)
	d.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("render page %d: %w", page, err)
	}
	return encodePage(img, d.ro)
}

func (d *fitzDocument) Text(page int) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.Text(page)
}

func (d *fitzDocument) Close() error {
	var err error
	d.once.Do(func() { err = d.doc.Close() })
	return err
}

type imageDocument struct {
	img image.Image
	ro  renderOptions
}

func openImage(path string, ro renderOptions) (*imageDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return &imageDocument{img: img, ro: ro}, nil
}

func (d *imageDocument) NumPages() int { return 1 }

func (d *imageDocument) Render(page int) (*renderedPage, error) {
	if page != 0 {
		return nil, fmt.Errorf("image has no page %d", page)
	}
	return encodePage(d.img, d.ro)
}

func (d *imageDocument) Text(int) (string, error) { return "", nil }

func (d *imageDocument) Close() error { return nil }

// encodePage flattens img onto white, downscales it so its longest side fits
// maxSide and encodes it as JPEG.
func encodePage(img image.Image, ro renderOptions) (*renderedPage, error) {
	img = flatten(img, ro.maxSide)

	quality := ro.quality
	if quality <= 0 {
		quality = 90
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode page: %w", err)
	}
	b := img.Bounds()
	return &renderedPage{Image: buf.Bytes(), MIME: "image/jpeg", Width: b.Dx(), Height: b.Dy()}, nil
}

func flatten(img image.Image, maxSide int) *image.RGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	nw, nh := w, h
	if maxSide > 0 && (w > maxSide || h > maxSide) {
		scale := float64(maxSide) / float64(max(w, h))
		nw, nh = max(1, int(float64(w)*scale)), max(1, int(float64(h)*scale))
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	if nw == w && nh == h {
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	}
	return dst
}
