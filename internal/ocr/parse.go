package ocr

import (
	"regexp"
	"strconv"
	"strings"
)

// Field patterns are tried in priority order; the first match wins. Labeled
// forms rank above bare tokens so an invoice that mentions several serials
// resolves to the one the layout labels as the meter. Labels cover the
// Albanian invoice wording used by the utility plus English fallbacks.
var meterPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:nr\.?\s*i?\s*njehsorit|njehsori|matesi|meter\s*(?:no|number|nr)\.?)\s*[:#]?\s*([A-Z]{0,4}\d{5,12})`),
	regexp.MustCompile(`\b(HM\d{6,10})\b`),
	regexp.MustCompile(`\b([A-Z]{2,4}\d{6,10})\b`),
}

var invoicePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:nr\.?\s*i?\s*fatur[ëe]s|fatura|invoice\s*(?:no|number|nr)\.?)\s*[:#]?\s*([A-Z0-9][A-Z0-9/-]{3,20})`),
	regexp.MustCompile(`\b(INV[-/]?\d{4,12})\b`),
}

var amountPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:gjithsej|totali|total|shuma|amount\s*due)\s*[:#]?\s*(?:€|eur)?\s*([\d.,]+)`),
	regexp.MustCompile(`(?:€|\bEUR\b)\s*([\d.,]+)`),
}

var datePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:data|date)\s*[:#]?\s*(\d{1,2}[./-]\d{1,2}[./-]\d{4})`),
	regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`),
	regexp.MustCompile(`\b(\d{1,2}\.\d{1,2}\.\d{4})\b`),
}

var namePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:konsumatori|emri|customer|name)\s*[:#]?\s*([\p{L}][\p{L} .'-]{2,60})`),
}

// ParseText runs the prioritized pattern pass over recognized text. It is a
// pure function; recognizer backends call it after text extraction so every
// backend shares one parsing behavior.
func ParseText(raw string) Extraction {
	ex := Extraction{RawText: raw}
	ex.MeterNumber = firstMatch(meterPatterns, raw)
	ex.InvoiceNumber = firstMatch(invoicePatterns, raw)
	ex.Date = firstMatch(datePatterns, raw)
	ex.CustomerName = strings.TrimSpace(firstMatch(namePatterns, raw))

	if s := firstMatch(amountPatterns, raw); s != "" {
		if v, ok := parseAmount(s); ok {
			ex.Amount = &v
		}
	}
	return ex
}

func firstMatch(patterns []*regexp.Regexp, raw string) string {
	for _, p := range patterns {
		if m := p.FindStringSubmatch(raw); m != nil {
			return m[1]
		}
	}
	return ""
}

// parseAmount handles both "1.234,56" (local) and "1,234.56" notation.
func parseAmount(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")
	switch {
	case lastComma > lastDot:
		// comma is the decimal separator
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	default:
		s = strings.ReplaceAll(s, ",", "")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
