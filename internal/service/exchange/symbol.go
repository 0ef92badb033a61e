package exchange

import (
	"fmt"
	"strings"
)

// Symbol 交易对
type Symbol struct {
	Base  string
	Quote string
}

func (s Symbol) IsZero() bool {
	return s.Base == "" || s.Quote == ""
}

func (s Symbol) ToString() string {
	return fmt.Sprintf("%s%s", s.Base, s.Quote)
}

func (s Symbol) ToSlashString() string {
	return fmt.Sprintf("%s/%s", s.Base, s.Quote)
}

// ParseSymbol 解析 "BTC/USDT" 或 "BTC-USDT" 形式的标识,
// 无分隔符时返回零值
func ParseSymbol(raw string) Symbol {
	for _, sep := range []string{"/", "-"} {
		if base, quote, ok := strings.Cut(raw, sep); ok {
			return Symbol{Base: base, Quote: quote}
		}
	}
	return Symbol{}
}

// CleanSymbol 规范化数据源返回的交易对标识。
// 部分交易所会返回 "BTC/USDT:USDT" 这类 quote 重复出现的标识,
// 此时收敛为 base + "/" + quote。
func CleanSymbol(raw, quote string) string {
	upper := strings.ToUpper(raw)
	quote = strings.ToUpper(quote)
	if strings.Count(upper, quote) > 1 {
		s := Symbol{Base: strings.SplitN(raw, "/", 2)[0], Quote: quote}
		return s.ToSlashString()
	}
	return raw
}

// IsQuotedIn 判断标识是否以 quote 计价("/USDT" 或 "-USDT" 结尾, 或包含 quote)
func IsQuotedIn(raw, quote string) bool {
	upper := strings.ToUpper(raw)
	quote = strings.ToUpper(quote)
	return strings.HasSuffix(upper, "/"+quote) ||
		strings.HasSuffix(upper, "-"+quote) ||
		strings.Contains(upper, quote)
}
