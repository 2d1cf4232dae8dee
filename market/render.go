package market

import (
	"fmt"
	"strings"
)

// RenderDepth 默认渲染档数。
const RenderDepth = 20

// Render 返回 bid/ask 并排的文本视图，最多 depth 档。
// 左列买侧（数量 价格，价格降序），右列卖侧（价格 数量，价格升序），
// 行数取双侧档数与 depth 的最小值。
func (b *Book) Render(depth int) string {
	if depth <= 0 {
		depth = RenderDepth
	}
	bids := b.TopBids(depth)
	asks := b.TopAsks(depth)
	rows := len(bids)
	if len(asks) < rows {
		rows = len(asks)
	}

	var sb strings.Builder
	sb.WriteString(b.symbol)
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("%s | %s\n", center("Bids", 21), center("Asks", 21)))
	for i := 0; i < rows; i++ {
		sb.WriteString(fmt.Sprintf("%-10v %-10v | %-10v %-10v\n",
			bids[i].Qty, bids[i].Price, asks[i].Price, asks[i].Qty))
	}
	return sb.String()
}

// String 渲染默认 20 档。
func (b *Book) String() string { return b.Render(RenderDepth) }

func center(s string, width int) string {
	if len(s) >= width {
		return s
	}
	left := (width - len(s)) / 2
	right := width - len(s) - left
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", right)
}
