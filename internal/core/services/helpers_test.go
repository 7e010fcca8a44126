package services

import "time"

var t0 = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
