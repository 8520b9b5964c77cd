// Package internal 實作字母搶答對戰的核心服務
//
// 玩法：兩位玩家配對成一場對局，從字母 A 一路答到 Z。
// 每個字母擲一顆骰子決定難度（1-6），答對加分並推進到
// 下一個字母，答錯原地重試。先走完 Z 的那一刻以總分定勝負，
// 平手判首位玩家獲勝；中途斷線立即判負，留下來的玩家
// 獲得固定加分。
//
// 模組分工：
//   - matchmaker  配對與課程表生成
//   - engine      答題狀態機與終局結算
//   - presence    session 追蹤與斷線判負
//   - websocket   連線樞紐與即時訊框
//   - broadcast   對局事件匯流排（NATS / 行程內）
//   - ratelimit   讀取端點的 Redis 配額守門
//   - store       實體儲存介面（PostgreSQL / 記憶體）
package internal
