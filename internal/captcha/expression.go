package captcha

import (
	"math"
	"math/big"
	"regexp"
	"strconv"
	"strings"
)

var normalizer = strings.NewReplacer(
	" ", "",
	"\n", "",
	"×", "*",
	"x", "*",
	"X", "*",
	"÷", "/",
)

var expressionRegex = regexp.MustCompile(`(\d+)([+\-*/])(\d+)`)
var numberRegex = regexp.MustCompile(`^\d+(\.\d+)?$`)

// Normalize strips spaces and newlines from OCR output and rewrites the
// multiplication and division glyphs to "*" and "/".
func Normalize(text string) string {
	return normalizer.Replace(text)
}

// SolveExpression evaluates the first "<digits><op><digits>" found in text
// and returns the formatted result. Text without an operator is accepted
// when it is a bare number. It returns "" when there is no answer.
func SolveExpression(text string) string {
	if text == "" {
		return ""
	}
	normalized := Normalize(text)

	groups := expressionRegex.FindStringSubmatch(normalized)
	if groups == nil {
		if numberRegex.MatchString(normalized) {
			return normalized
		}
		return ""
	}

	left, _ := new(big.Int).SetString(groups[1], 10)
	right, _ := new(big.Int).SetString(groups[3], 10)

	switch groups[2] {
	case "+":
		return new(big.Int).Add(left, right).String()
	case "-":
		return new(big.Int).Sub(left, right).String()
	case "*":
		return new(big.Int).Mul(left, right).String()
	case "/":
		if right.Sign() == 0 {
			return ""
		}
		l, _ := new(big.Float).SetInt(left).Float64()
		r, _ := new(big.Float).SetInt(right).Float64()
		return FormatMathResult(l / r)
	}
	return ""
}

// FormatMathResult renders values within 1e-9 of an integer as that
// integer and everything else with at most 4 decimals.
func FormatMathResult(value float64) string {
	rounded := math.Round(value)
	if math.Abs(value-rounded) < 1e-9 {
		return strconv.FormatFloat(rounded, 'f', 0, 64)
	}
	out := strconv.FormatFloat(value, 'f', 4, 64)
	out = strings.TrimRight(out, "0")
	out = strings.TrimRight(out, ".")
	return out
}
