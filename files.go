/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"fmt"
)

// humanReadableSize formats n bytes with SI units, e.g. 1.5 kB.
func humanReadableSize(n int64) string {
	const units = "kMGTPE"

	if n < 1000 {
		return fmt.Sprintf("%d B", n)
	}

	value := float64(n)
	exp := -1
	for value >= 1000 && exp < len(units)-1 {
		value /= 1000
		exp++
	}

	return fmt.Sprintf("%.1f %cB", value, units[exp])
}
