package extract

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
)

// Office Open XML containers are zip archives of XML parts. Only the text
// runs are needed, so both parsers walk raw XML tokens instead of modelling
// the full schemas.

// extractPPTX concatenates the text runs (<a:t>) of every slide, in slide
// order.
func extractPPTX(filePath string) (string, error) {
	zr, err := zip.OpenReader(filePath)
	if err != nil {
		return "", fmt.Errorf("opening pptx: %w", err)
	}
	defer zr.Close()

	var slides []*zip.File
	for _, f := range zr.File {
		if strings.HasPrefix(f.Name, "ppt/slides/slide") && path.Ext(f.Name) == ".xml" {
			slides = append(slides, f)
		}
	}
	// Slide file names carry their index (slide1.xml, slide2.xml, ...).
	sort.Slice(slides, func(i, j int) bool {
		return slideOrder(slides[i].Name) < slideOrder(slides[j].Name)
	})

	var sb strings.Builder
	for _, slide := range slides {
		text, err := collectTaggedText(slide, "t")
		if err != nil {
			return "", fmt.Errorf("reading slide %s: %w", slide.Name, err)
		}
		if text != "" {
			sb.WriteString(text)
			sb.WriteString("\n")
		}
	}
	return sb.String(), nil
}

// collectTaggedText gathers character data inside every <tag> element of one
// zip member, joined by newlines.
func collectTaggedText(f *zip.File, tag string) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	var parts []string
	dec := xml.NewDecoder(rc)
	depth := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == tag {
				depth++
			}
		case xml.CharData:
			if depth > 0 {
				if text := string(t); text != "" {
					parts = append(parts, text)
				}
			}
		case xml.EndElement:
			if t.Name.Local == tag && depth > 0 {
				depth--
			}
		}
	}
	return strings.Join(parts, "\n"), nil
}

func slideOrder(name string) int {
	base := strings.TrimSuffix(path.Base(name), ".xml")
	var n int
	fmt.Sscanf(base, "slide%d", &n)
	return n
}

// extractXLSX reads the shared-string table and every worksheet's inline
// values, one row of cells per line.
func extractXLSX(filePath string) (string, error) {
	zr, err := zip.OpenReader(filePath)
	if err != nil {
		return "", fmt.Errorf("opening xlsx: %w", err)
	}
	defer zr.Close()

	var shared []string
	var sheets []*zip.File
	for _, f := range zr.File {
		switch {
		case f.Name == "xl/sharedStrings.xml":
			shared, err = sharedStrings(f)
			if err != nil {
				return "", fmt.Errorf("reading shared strings: %w", err)
			}
		case strings.HasPrefix(f.Name, "xl/worksheets/sheet") && path.Ext(f.Name) == ".xml":
			sheets = append(sheets, f)
		}
	}
	sort.Slice(sheets, func(i, j int) bool { return sheets[i].Name < sheets[j].Name })

	var sb strings.Builder
	for _, sheet := range sheets {
		if err := sheetText(sheet, shared, &sb); err != nil {
			return "", fmt.Errorf("reading sheet %s: %w", sheet.Name, err)
		}
	}
	return sb.String(), nil
}

func sharedStrings(f *zip.File) ([]string, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var strs []string
	dec := xml.NewDecoder(rc)
	var current strings.Builder
	inString, inText := false, false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "si":
				inString = true
				current.Reset()
			case "t":
				inText = inString
			}
		case xml.CharData:
			if inText {
				current.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "si":
				inString = false
				strs = append(strs, current.String())
			}
		}
	}
	return strs, nil
}

func sheetText(f *zip.File, shared []string, sb *strings.Builder) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	dec := xml.NewDecoder(rc)
	var cellType string
	inValue := false
	var rowCells []string
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "row":
				rowCells = rowCells[:0]
			case "c":
				cellType = ""
				for _, attr := range t.Attr {
					if attr.Name.Local == "t" {
						cellType = attr.Value
					}
				}
			case "v", "t":
				inValue = true
			}
		case xml.CharData:
			if inValue {
				val := string(t)
				if cellType == "s" {
					var idx int
					if _, err := fmt.Sscanf(val, "%d", &idx); err == nil && idx >= 0 && idx < len(shared) {
						val = shared[idx]
					}
				}
				if val != "" {
					rowCells = append(rowCells, val)
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "v", "t":
				inValue = false
			case "row":
				if len(rowCells) > 0 {
					sb.WriteString(strings.Join(rowCells, " "))
					sb.WriteString("\n")
				}
			}
		}
	}
	return nil
}
