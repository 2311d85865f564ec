package cache

import "time"

// 新鲜度判定均以 Expires 为基准：SWR 与 SIE 是两个独立窗口，
// 各自从 Expires 开始计算，可以重叠，互不影响。

// IsFresh 表示 now 仍早于 Expires。
func IsFresh(e Entry, now time.Time) bool {
	return now.Before(e.Expires)
}

// IsStale 是 IsFresh 的补集。
func IsStale(e Entry, now time.Time) bool {
	return !IsFresh(e, now)
}

// CanServeStaleWhileRevalidate 表示 now 落在 [Expires, Expires+SWR) 内。
func CanServeStaleWhileRevalidate(e Entry, now time.Time) bool {
	return now.Before(e.Expires.Add(e.StaleWhileRevalidate))
}

// CanServeStaleIfError 表示 now 落在 [Expires, Expires+SIE) 内。
func CanServeStaleIfError(e Entry, now time.Time) bool {
	return now.Before(e.Expires.Add(e.StaleIfError))
}

// Age 返回自写入以来经过的整秒数，不会为负。
func Age(e Entry, now time.Time) int {
	elapsed := now.Sub(e.StoredAt())
	if elapsed <= 0 {
		return 0
	}
	return int(elapsed / time.Second)
}
