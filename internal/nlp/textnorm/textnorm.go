// Package textnorm normalizes raw user text before entity extraction and
// intent classification. Both stages must see the same text so that entity
// spans line up with classifier pattern matches.
package textnorm

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	thousandsPattern = regexp.MustCompile(`\b\d{1,3}(?:,\d{3})+\b`)
	currencyPattern  = regexp.MustCompile(`([$€£])\s?(\d+(?:\.\d+)?(?:[kKmMbB]\b)?)`)
	magnitudePattern = regexp.MustCompile(`\b(\d+)(?:\.(\d+))?\s?([kKmMbB])\b`)
	wordPattern      = regexp.MustCompile(`[a-z0-9]+(?:'[a-z]+)?`)
)

var currencyCodes = map[string]string{
	"$": "USD",
	"€": "EUR",
	"£": "GBP",
}

var magnitudeZeros = map[byte]int{
	'k': 3,
	'm': 6,
	'b': 9,
}

// Preprocess 依次去除千分位分隔符、展开货币符号、展开 k/m/b 数量级后缀，并折叠空白。
// 对已处理过的文本再次调用结果不变。
func Preprocess(text string) string {
	out := strings.Join(strings.Fields(text), " ")
	out = thousandsPattern.ReplaceAllStringFunc(out, func(m string) string {
		return strings.ReplaceAll(m, ",", "")
	})
	out = currencyPattern.ReplaceAllStringFunc(out, func(m string) string {
		sub := currencyPattern.FindStringSubmatch(m)
		return sub[2] + " " + currencyCodes[sub[1]]
	})
	out = magnitudePattern.ReplaceAllStringFunc(out, func(m string) string {
		sub := magnitudePattern.FindStringSubmatch(m)
		return expandMagnitude(sub[1], sub[2], magnitudeZeros[byte(unicode.ToLower(rune(sub[3][0])))])
	})
	return out
}

// expandMagnitude 以十进制移位的方式乘以 10^zeros，避免浮点误差。
func expandMagnitude(intPart, fracPart string, zeros int) string {
	digits := intPart + fracPart
	point := len(intPart) + zeros
	for len(digits) < point {
		digits += "0"
	}
	whole := strings.TrimLeft(digits[:point], "0")
	if whole == "" {
		whole = "0"
	}
	frac := strings.TrimRight(digits[point:], "0")
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}

// Words 返回小写的单词序列，用于关键字匹配。
func Words(text string) []string {
	return wordPattern.FindAllString(strings.ToLower(text), -1)
}

// IsQuestion 判断文本是否是疑问句。
func IsQuestion(text string) bool {
	trimmed := strings.TrimSpace(text)
	if strings.HasSuffix(trimmed, "?") {
		return true
	}
	words := Words(trimmed)
	if len(words) == 0 {
		return false
	}
	switch words[0] {
	case "what", "what's", "whats", "which", "how", "where", "when", "is", "are", "can", "should", "does", "do":
		return true
	}
	return false
}

// FirstWord 返回文本的第一个单词（小写）。
func FirstWord(text string) string {
	words := Words(text)
	if len(words) == 0 {
		return ""
	}
	return words[0]
}
