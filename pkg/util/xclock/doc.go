// Package xclock 提供毫秒精度的时钟抽象。
//
// 限流窗口以 Unix 毫秒时间戳表示（0 表示"未设置"），所有需要"当前时间"的组件
// 都通过 [Clock] 获取，测试中使用 [Manual] 精确控制时间推进，无需 time.Sleep。
//
//	clk := xclock.NewManual(0)
//	clk.Advance(1001 * time.Millisecond)
//	clk.NowMillis() // 1001
package xclock
