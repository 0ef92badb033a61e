package decimalx

import "github.com/shopspring/decimal"

func MustFromString(s string) decimal.Decimal {
	f, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return f
}

// Avg 算术平均, 空切片返回0
func Avg(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}

	var sum decimal.Decimal
	for _, v := range values {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(len(values))))
}

// SMA 简单移动平均, 每个完整窗口一个值, 由旧到新。
// 数据不足一个窗口时返回 nil。
func SMA(values []decimal.Decimal, period int) []decimal.Decimal {
	if period <= 0 || len(values) < period {
		return nil
	}

	res := make([]decimal.Decimal, 0, len(values)-period+1)
	n := decimal.NewFromInt(int64(period))

	// 滚动窗口和, 避免每个窗口重复求和
	var sum decimal.Decimal
	for _, v := range values[:period] {
		sum = sum.Add(v)
	}
	res = append(res, sum.Div(n))
	for i := period; i < len(values); i++ {
		sum = sum.Add(values[i]).Sub(values[i-period])
		res = append(res, sum.Div(n))
	}
	return res
}
