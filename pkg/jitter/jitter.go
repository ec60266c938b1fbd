// Package jitter предоставляет утилиты для расчёта пауз между повторами запросов.
// Джиттер разносит повторы разных скрейперов во времени, чтобы они не били по сайту одновременно.
package jitter

import (
	"math/rand"
	"sync"
	"time"
)

// DefaultJitter — стандартный коэффициент джиттера (50%)
const DefaultJitter = 0.5

var (
	globalRand = rand.New(rand.NewSource(time.Now().UnixNano()))
	randMutex  sync.Mutex
)

// Duration возвращает продолжительность с применённым джиттером.
// Результат находится в диапазоне [d, d*(1+jitterFactor)].
func Duration(d time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return d
	}

	randMutex.Lock()
	jitter := globalRand.Float64() * jitterFactor * float64(d)
	randMutex.Unlock()
	return d + time.Duration(jitter)
}

// Exponential возвращает base * 2^attempt, ограниченное сверху значением max (если max > 0).
func Exponential(base, max time.Duration, attempt int) time.Duration {
	backoff := base
	for i := 0; i < attempt; i++ {
		backoff *= 2
		if max > 0 && backoff > max {
			return max
		}
	}
	if max > 0 && backoff > max {
		return max
	}
	return backoff
}

// ExponentialBackoff вычисляет экспоненциальное отступление с джиттером.
// attempt — номер текущего повтора (нумерация с нуля), поэтому первый повтор ждёт base.
func ExponentialBackoff(base, max time.Duration, attempt int, jitterFactor float64) time.Duration {
	return Duration(Exponential(base, max, attempt), jitterFactor)
}
